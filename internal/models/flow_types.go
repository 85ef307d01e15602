// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType represents a specific conversational flow.
type FlowType string

// StateType represents a specific state within a flow.
type StateType string

// DataKey represents a key for storing state-specific data.
type DataKey string

// Flow type constants.
const (
	FlowTypeAdd      FlowType = "add_lead"
	FlowTypeCheck    FlowType = "check_lead"
	FlowTypeEdit     FlowType = "edit_lead"
	FlowTypeTag      FlowType = "tag_reassign"
	FlowTypeTransfer FlowType = "transfer_leads"
)

// State constants for the add flow.
const (
	StateAddFullname     StateType = "ADD_FULLNAME"
	StateAddFacebookLink StateType = "ADD_FB_LINK"
	StateAddTelegramName StateType = "ADD_TELEGRAM_NAME"
	StateAddTelegramID   StateType = "ADD_TELEGRAM_ID"
	StateAddReview       StateType = "ADD_REVIEW"
)

// State constants for the check flow.
const (
	StateSmartCheckInput StateType = "SMART_CHECK_INPUT"
)

// State constants for the edit flow.
const (
	StateEditPIN          StateType = "EDIT_PIN"
	StateEditMenu         StateType = "EDIT_MENU"
	StateEditFullname     StateType = "EDIT_FULLNAME"
	StateEditFacebookLink StateType = "EDIT_FB_LINK"
	StateEditTelegramName StateType = "EDIT_TELEGRAM_NAME"
	StateEditTelegramID   StateType = "EDIT_TELEGRAM_ID"
	StateEditManagerName  StateType = "EDIT_MANAGER_NAME"
)

// State constants for the tag reassignment flow.
const (
	StateTagPIN           StateType = "TAG_PIN"
	StateTagSelectManager StateType = "TAG_SELECT_MANAGER"
	StateTagEnterNew      StateType = "TAG_ENTER_NEW"
)

// State constants for the transfer flow.
const (
	StateTransferPIN        StateType = "TRANSFER_PIN"
	StateTransferSelectFrom StateType = "TRANSFER_SELECT_FROM"
	StateTransferSelectTo   StateType = "TRANSFER_SELECT_TO"
	StateTransferConfirm    StateType = "TRANSFER_CONFIRM"
)

// Data key constants shared across flows. Session field keys mirror the lead
// record columns so extracted data can be merged without translation.
const (
	DataKeyFullname     DataKey = "fullname"
	DataKeyFacebookLink DataKey = "facebook_link"
	DataKeyTelegramName DataKey = "telegram_name"
	DataKeyTelegramID   DataKey = "telegram_id"
	DataKeyManagerName  DataKey = "manager_name"
	DataKeyManagerTag   DataKey = "manager_tag"
	DataKeyPhotoFileID  DataKey = "photo_file_id"
	DataKeyHadPhoto     DataKey = "had_photo"

	DataKeyPINAttempts    DataKey = "pin_attempts"
	DataKeyCurrentField   DataKey = "current_field"
	DataKeyAddStep        DataKey = "add_step"
	DataKeyReturnToReview DataKey = "return_to_review"
	DataKeyEditingLeadID  DataKey = "editing_lead_id"
	DataKeyOriginalLead   DataKey = "original_lead"

	DataKeyTagManagerName  DataKey = "tag_manager_name"
	DataKeyTagNewTag       DataKey = "tag_new_tag"
	DataKeyManagerNames    DataKey = "manager_names"
	DataKeyTransferFrom    DataKey = "transfer_from_manager"
	DataKeyTransferTo      DataKey = "transfer_to_manager"
	DataKeyTransferToTag   DataKey = "transfer_to_tag"
	DataKeyForwardedSource DataKey = "forwarded_source"
)

// LeadFieldKeys lists the session keys that map directly onto lead record
// columns, in the order the add flow collects them.
var LeadFieldKeys = []DataKey{
	DataKeyFullname,
	DataKeyFacebookLink,
	DataKeyTelegramName,
	DataKeyTelegramID,
}

// IdentifierFieldKeys lists the fields usable for lookup and uniqueness.
var IdentifierFieldKeys = []DataKey{
	DataKeyFacebookLink,
	DataKeyTelegramName,
	DataKeyTelegramID,
}
