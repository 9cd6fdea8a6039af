// Package types holds the document and configuration records shared across packages.
package types

import "fmt"

// templateGroupID is the storage group id reserved for cross-group templates.
const templateGroupID = "9999"

// Key addresses a single user document.
type Key struct {
	BotID   string `json:"bot_id"`
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.BotID, k.GroupID, k.UserID)
}

// IsTemplate reports whether the key points at a template record rather than a real group.
func (k Key) IsTemplate() bool {
	return k.GroupID == templateGroupID
}

// Template returns the template key shared by every group of the same (bot, user).
func (k Key) Template() TemplateKey {
	return TemplateKey{BotID: k.BotID, UserID: k.UserID}
}

// TemplateKey identifies the per-(bot, user) template record that carries
// cross-group state to newly seen groups. It is never a chat group.
type TemplateKey struct {
	BotID  string
	UserID string
}

// StorageKey returns the key under which the template is persisted.
func (t TemplateKey) StorageKey() Key {
	return Key{BotID: t.BotID, GroupID: templateGroupID, UserID: t.UserID}
}

// TemplateGroupID exposes the reserved group id for storage filters and validation.
func TemplateGroupID() string {
	return templateGroupID
}
