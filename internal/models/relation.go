package models

// Relation names a table whose rows publish change notifications.
type Relation string

const (
	RelationPosts     Relation = "posts"
	RelationComments  Relation = "comments"
	RelationLikes     Relation = "likes"
	RelationPollVotes Relation = "poll_votes"
)

// WatchedRelations lists every relation a feed view subscribes to.
var WatchedRelations = []Relation{
	RelationPosts,
	RelationLikes,
	RelationComments,
	RelationPollVotes,
}
