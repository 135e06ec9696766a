package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Tag is an archiving annotation attached to an item.
type Tag string

const (
	TagToArchive      Tag = "TO-ARCHIVE"
	TagArchivePending Tag = "ARCHIVE-PENDING"
	TagArchived       Tag = "ARCHIVED"
	TagArchiveNote    Tag = "ARCHIVE NOTE"
)

// Namespace groups every archiving tag.
const Namespace = "archiving"

// ParseTag validates a tag name.
func ParseTag(value string) (Tag, bool) {
	switch Tag(strings.ToUpper(strings.TrimSpace(value))) {
	case TagToArchive:
		return TagToArchive, true
	case TagArchivePending:
		return TagArchivePending, true
	case TagArchived:
		return TagArchived, true
	case TagArchiveNote:
		return TagArchiveNote, true
	}
	return "", false
}

// FileKind names the storage generation a file belongs to.
type FileKind string

const (
	// KindFileset files are stored in the managed repository and shared by
	// every item of their fileset.
	KindFileset  FileKind = "fileset"
	KindOriginal FileKind = "original"
	KindPixels   FileKind = "pixels"
)

// User is a repository account.
type User struct {
	ID    int64
	Name  string
	Email string
}

// Group is a collaboration group with its member user ids.
type Group struct {
	ID      int64
	Name    string
	Members []int64
}

// HasMember reports whether userID belongs to the group.
func (g Group) HasMember(userID int64) bool {
	for _, id := range g.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// Item is a logical entity users tag, such as an image.
type Item struct {
	ID        int64
	Name      string
	Project   string
	Dataset   string
	OwnerID   int64
	GroupID   int64
	FilesetID int64
}

// Key renders the item the way job records list it.
func (i Item) Key() string {
	return fmt.Sprintf("/%s/%s/%s (%d)", i.Project, i.Dataset, i.Name, i.ID)
}

// FileRef is one physical file linked to an item outside any fileset.
type FileRef struct {
	Path string
	Kind FileKind
}

// TagLink records who applied a tag to an item.
type TagLink struct {
	ItemID   int64
	Tag      Tag
	LinkedBy int64
}

// Snapshot is a read-only view of the catalog taken once per run.
type Snapshot struct {
	Users  map[int64]User
	Groups map[int64]Group
	Items  map[int64]Item
	// FilesetFiles maps a fileset to the managed repository paths it contains.
	FilesetFiles map[int64][]string
	// ItemFiles maps an item to legacy original and pixel files.
	ItemFiles map[int64][]FileRef
	Tags      map[int64][]TagLink
	Notes     map[int64]map[string]string
}

// NewSnapshot returns an empty snapshot ready to be filled.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Users:        make(map[int64]User),
		Groups:       make(map[int64]Group),
		Items:        make(map[int64]Item),
		FilesetFiles: make(map[int64][]string),
		ItemFiles:    make(map[int64][]FileRef),
		Tags:         make(map[int64][]TagLink),
		Notes:        make(map[int64]map[string]string),
	}
}

// HasTag reports whether item carries tag.
func (s *Snapshot) HasTag(itemID int64, tag Tag) bool {
	_, ok := s.TagLink(itemID, tag)
	return ok
}

// TagLink returns the link of tag on item.
func (s *Snapshot) TagLink(itemID int64, tag Tag) (TagLink, bool) {
	for _, link := range s.Tags[itemID] {
		if link.Tag == tag {
			return link, true
		}
	}
	return TagLink{}, false
}

// Tagged returns the ids of items carrying tag, ascending.
func (s *Snapshot) Tagged(tag Tag) []int64 {
	var ids []int64
	for id := range s.Tags {
		if s.HasTag(id, tag) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FilesOf returns every path directly linked to item, with its kind.
func (s *Snapshot) FilesOf(itemID int64) []FileRef {
	item, ok := s.Items[itemID]
	if !ok {
		return nil
	}
	var refs []FileRef
	if item.FilesetID != 0 {
		for _, path := range s.FilesetFiles[item.FilesetID] {
			refs = append(refs, FileRef{Path: path, Kind: KindFileset})
		}
	}
	refs = append(refs, s.ItemFiles[itemID]...)
	return refs
}

// CanAct reports whether userID may archive item: the item's owner or a
// member of its group.
func (s *Snapshot) CanAct(userID int64, item Item) bool {
	if userID == item.OwnerID {
		return true
	}
	group, ok := s.Groups[item.GroupID]
	return ok && group.HasMember(userID)
}
