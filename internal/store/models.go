package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is created on first Google login and never duplicated: EnsureUserByGoogleID
// upserts on the stable subject id. People holds ordered references to the
// user's Person documents.
type User struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	GoogleID     string               `bson:"googleId" json:"googleId"`
	Name         string               `bson:"name" json:"name"`
	Email        string               `bson:"email" json:"email"`
	ProfilePhoto string               `bson:"profilePhoto" json:"profilePhoto"`
	People       []primitive.ObjectID `bson:"people" json:"people"`
	CreatedAt    time.Time            `bson:"createdAt" json:"createdAt"`
}

// Person embeds its memories; they have no independent lifecycle. Every
// operation on a Person filters by (_id, user) so ownership mismatches are
// indistinguishable from absence.
type Person struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name           string             `bson:"name" json:"name"`
	ProfilePicture *string            `bson:"profilePicture,omitempty" json:"profilePicture"`
	Memories       []Memory           `bson:"memories" json:"memories"`
	UserID         primitive.ObjectID `bson:"user" json:"user"`
}

type Memory struct {
	ID       primitive.ObjectID `bson:"_id" json:"id"`
	Title    string             `bson:"title" json:"title"`
	Photo    *string            `bson:"photo,omitempty" json:"photo"`
	Comments []Comment          `bson:"comments" json:"comments"`
	Date     time.Time          `bson:"date" json:"date"`
}

type Comment struct {
	ID   primitive.ObjectID `bson:"_id" json:"id"`
	Text string             `bson:"text" json:"text"`
	Date time.Time          `bson:"date" json:"date"`
}

// NewMemory builds a Memory subdocument ready to append. An optional initial
// comment becomes the first element of the comment list.
func NewMemory(title string, photo *string, initialComment string) Memory {
	memory := Memory{
		ID:       primitive.NewObjectID(),
		Title:    title,
		Photo:    photo,
		Comments: []Comment{},
		Date:     time.Now().UTC(),
	}
	if initialComment != "" {
		memory.Comments = append(memory.Comments, NewComment(initialComment))
	}
	return memory
}

func NewComment(text string) Comment {
	return Comment{
		ID:   primitive.NewObjectID(),
		Text: text,
		Date: time.Now().UTC(),
	}
}
