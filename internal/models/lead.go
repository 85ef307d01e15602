package models

import "time"

// Lead is a contact record owned by the backing store. Handlers never keep
// authoritative copies across requests; mutating flows re-read before writing.
type Lead struct {
	ID           int64     `json:"id"`
	Fullname     string    `json:"fullname"`
	FacebookLink string    `json:"facebook_link,omitempty"`
	TelegramName string    `json:"telegram_name,omitempty"`
	TelegramID   string    `json:"telegram_id,omitempty"`
	ManagerName  string    `json:"manager_name,omitempty"`
	ManagerTag   string    `json:"manager_tag,omitempty"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Field returns the lead column value addressed by a session data key.
func (l *Lead) Field(key DataKey) string {
	switch key {
	case DataKeyFullname:
		return l.Fullname
	case DataKeyFacebookLink:
		return l.FacebookLink
	case DataKeyTelegramName:
		return l.TelegramName
	case DataKeyTelegramID:
		return l.TelegramID
	case DataKeyManagerName:
		return l.ManagerName
	case DataKeyManagerTag:
		return l.ManagerTag
	default:
		return ""
	}
}

// LeadPatch is a partial update for a lead record. Nil fields are untouched.
type LeadPatch struct {
	Fullname     *string
	FacebookLink *string
	TelegramName *string
	TelegramID   *string
	ManagerName  *string
	ManagerTag   *string
	PhotoURL     *string
}

// SetField assigns the patch member addressed by a session data key.
func (p *LeadPatch) SetField(key DataKey, value string) {
	v := value
	switch key {
	case DataKeyFullname:
		p.Fullname = &v
	case DataKeyFacebookLink:
		p.FacebookLink = &v
	case DataKeyTelegramName:
		p.TelegramName = &v
	case DataKeyTelegramID:
		p.TelegramID = &v
	case DataKeyManagerName:
		p.ManagerName = &v
	case DataKeyManagerTag:
		p.ManagerTag = &v
	}
}

// Empty reports whether the patch carries no changes.
func (p *LeadPatch) Empty() bool {
	return p.Fullname == nil && p.FacebookLink == nil && p.TelegramName == nil &&
		p.TelegramID == nil && p.ManagerName == nil && p.ManagerTag == nil && p.PhotoURL == nil
}
