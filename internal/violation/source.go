package violation

// SourceKind identifies which surface reported a violation.
type SourceKind string

const (
	SourceChat  SourceKind = "chat"
	SourceForum SourceKind = "forum"
	SourceImage SourceKind = "image"
)

// Source tags a violation with the surface it came from. Chat violations are
// scoped to a community; forum and image violations use the global keyspace.
type Source struct {
	Kind        SourceKind
	CommunityID string
}

// ChatSource returns a community-scoped chat source.
func ChatSource(communityID string) Source {
	return Source{Kind: SourceChat, CommunityID: communityID}
}

// ForumSource returns the global forum source.
func ForumSource() Source {
	return Source{Kind: SourceForum}
}

// ImageSource returns the global image upload source.
func ImageSource() Source {
	return Source{Kind: SourceImage}
}
