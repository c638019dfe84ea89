package notes

import (
	"github.com/innonova/mimiri-client-sub002/common"
)

// NoteItem is one decrypted facet of a note.
type NoteItem struct {
	Version  int64
	Type     string
	Data     map[string]interface{}
	Changed  bool
	Modified string
	Created  string
}

// Note is the plaintext form of a note.
type Note struct {
	ID       string
	KeyName  string
	Modified string
	Created  string
	Sync     int64
	Items    []NoteItem
}

func NewNote(id, keyName string) *Note {
	now := common.Now()

	return &Note{
		ID:       id,
		KeyName:  keyName,
		Modified: now,
		Created:  now,
	}
}

// GetItem returns the item of the given type or nil.
func (n *Note) GetItem(itemType string) *NoteItem {
	for i := range n.Items {
		if n.Items[i].Type == itemType {
			return &n.Items[i]
		}
	}

	return nil
}

func (n *Note) Has(itemType string) bool {
	return n.GetItem(itemType) != nil
}

// GetVersion is zero for items the server has never seen.
func (n *Note) GetVersion(itemType string) int64 {
	if item := n.GetItem(itemType); item != nil {
		return item.Version
	}

	return 0
}

// ChangeItem returns the item for editing, adding it when missing, and flags
// it for the next update action.
func (n *Note) ChangeItem(itemType string) *NoteItem {
	item := n.GetItem(itemType)
	if item == nil {
		now := common.Now()
		n.Items = append(n.Items, NoteItem{
			Type:     itemType,
			Data:     map[string]interface{}{},
			Modified: now,
			Created:  now,
		})
		item = &n.Items[len(n.Items)-1]
	}

	item.Changed = true

	return item
}

func (n *Note) Title() string {
	if item := n.GetItem(common.NoteItemTypeMetadata); item != nil {
		if title, ok := item.Data["title"].(string); ok {
			return title
		}
	}

	return ""
}

func (n *Note) SetTitle(title string) {
	n.ChangeItem(common.NoteItemTypeMetadata).Data["title"] = title
}

func (n *Note) Text() string {
	if item := n.GetItem(common.NoteItemTypeText); item != nil {
		if text, ok := item.Data["text"].(string); ok {
			return text
		}
	}

	return ""
}

func (n *Note) SetText(text string) {
	n.ChangeItem(common.NoteItemTypeText).Data["text"] = text
}

// ChildIDs returns the ids listed in the metadata item.
func (n *Note) ChildIDs() []string {
	item := n.GetItem(common.NoteItemTypeMetadata)
	if item == nil {
		return nil
	}

	return ChildIDs(item.Data)
}

// SetChildIDs replaces the child list in the metadata item.
func (n *Note) SetChildIDs(ids []string) {
	children := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		children = append(children, id)
	}

	n.ChangeItem(common.NoteItemTypeMetadata).Data["notes"] = children
}

// ChildIDs reads the "notes" list of a decrypted metadata object.
func ChildIDs(metadata map[string]interface{}) []string {
	raw, ok := metadata["notes"].([]interface{})
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(raw))

	for _, v := range raw {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}

	return ids
}
