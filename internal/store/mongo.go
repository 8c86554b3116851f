package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ErrNotFound covers both genuinely absent records and records owned by a
// different user; callers must not be able to tell the two apart.
var ErrNotFound = errors.New("not found")

type MongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
	people *mongo.Collection
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client: client,
		users:  db.Collection("users"),
		people: db.Collection("people"),
	}
}

// EnsureUserByGoogleID is the idempotent lookup-or-create for a Google subject
// id: a single atomic upsert, so replaying the same subject never creates a
// second User. Name, email and photo are refreshed from the provider on every
// login.
func (s *MongoStore) EnsureUserByGoogleID(ctx context.Context, subject, name, email, photo string) (User, error) {
	filter := bson.M{"googleId": subject}
	update := bson.M{
		"$set": bson.M{
			"name":         name,
			"email":        email,
			"profilePhoto": photo,
		},
		"$setOnInsert": bson.M{
			"googleId":  subject,
			"people":    []primitive.ObjectID{},
			"createdAt": time.Now().UTC(),
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var user User
	if err := s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user); err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *MongoStore) GetUserByID(ctx context.Context, id string) (User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return User{}, ErrNotFound
	}
	var user User
	if err := s.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *MongoStore) InsertPerson(ctx context.Context, owner string, person Person) (Person, error) {
	ownerID, err := primitive.ObjectIDFromHex(owner)
	if err != nil {
		return Person{}, ErrNotFound
	}
	person.ID = primitive.NewObjectID()
	person.UserID = ownerID
	if person.Memories == nil {
		person.Memories = []Memory{}
	}
	if _, err := s.people.InsertOne(ctx, person); err != nil {
		return Person{}, fmt.Errorf("insert person: %w", err)
	}
	return person, nil
}

// AddPersonRef appends a Person reference to the owner's ordered people list.
func (s *MongoStore) AddPersonRef(ctx context.Context, owner, personID string) error {
	ownerID, err := primitive.ObjectIDFromHex(owner)
	if err != nil {
		return ErrNotFound
	}
	pid, err := primitive.ObjectIDFromHex(personID)
	if err != nil {
		return ErrNotFound
	}
	if _, err := s.users.UpdateByID(ctx, ownerID, bson.M{"$push": bson.M{"people": pid}}); err != nil {
		return fmt.Errorf("add person ref: %w", err)
	}
	return nil
}

func (s *MongoStore) RemovePersonRef(ctx context.Context, owner, personID string) error {
	ownerID, err := primitive.ObjectIDFromHex(owner)
	if err != nil {
		return ErrNotFound
	}
	pid, err := primitive.ObjectIDFromHex(personID)
	if err != nil {
		return ErrNotFound
	}
	if _, err := s.users.UpdateByID(ctx, ownerID, bson.M{"$pull": bson.M{"people": pid}}); err != nil {
		return fmt.Errorf("remove person ref: %w", err)
	}
	return nil
}

// ListPeople returns the owner's people in the store's natural order.
func (s *MongoStore) ListPeople(ctx context.Context, owner string) ([]Person, error) {
	ownerID, err := primitive.ObjectIDFromHex(owner)
	if err != nil {
		return nil, ErrNotFound
	}
	cursor, err := s.people.Find(ctx, bson.M{"user": ownerID})
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	defer cursor.Close(ctx)

	people := []Person{}
	if err := cursor.All(ctx, &people); err != nil {
		return nil, fmt.Errorf("decode people: %w", err)
	}
	return people, nil
}

func (s *MongoStore) GetPerson(ctx context.Context, id, owner string) (Person, error) {
	filter, err := personFilter(id, owner)
	if err != nil {
		return Person{}, err
	}
	var person Person
	if err := s.people.FindOne(ctx, filter).Decode(&person); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Person{}, ErrNotFound
		}
		return Person{}, fmt.Errorf("get person: %w", err)
	}
	return person, nil
}

// SetPersonPhoto atomically swaps the profile picture pointer; the caller has
// already stored the new blob.
func (s *MongoStore) SetPersonPhoto(ctx context.Context, id, owner, url string) (Person, error) {
	filter, err := personFilter(id, owner)
	if err != nil {
		return Person{}, err
	}
	update := bson.M{"$set": bson.M{"profilePicture": url}}
	return s.findPersonAndUpdate(ctx, filter, update, nil)
}

// DeletePerson is a single find-and-delete, not find-then-delete, so two
// concurrent deletes cannot both observe the record. The deleted document is
// returned so the caller can clean up blobs.
func (s *MongoStore) DeletePerson(ctx context.Context, id, owner string) (Person, error) {
	filter, err := personFilter(id, owner)
	if err != nil {
		return Person{}, err
	}
	var person Person
	if err := s.people.FindOneAndDelete(ctx, filter).Decode(&person); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Person{}, ErrNotFound
		}
		return Person{}, fmt.Errorf("delete person: %w", err)
	}
	return person, nil
}

// DeleteAllPeople removes every Person owned by the user and clears the
// owner's reference list. Returns the number of deleted people.
func (s *MongoStore) DeleteAllPeople(ctx context.Context, owner string) (int64, error) {
	ownerID, err := primitive.ObjectIDFromHex(owner)
	if err != nil {
		return 0, ErrNotFound
	}
	result, err := s.people.DeleteMany(ctx, bson.M{"user": ownerID})
	if err != nil {
		return 0, fmt.Errorf("delete people: %w", err)
	}
	if _, err := s.users.UpdateByID(ctx, ownerID, bson.M{"$set": bson.M{"people": []primitive.ObjectID{}}}); err != nil {
		return result.DeletedCount, fmt.Errorf("clear person refs: %w", err)
	}
	return result.DeletedCount, nil
}

// AppendMemory pushes the subdocument with a native atomic $push; no
// read-modify-write of the whole Person, so concurrent appends cannot lose
// memories.
func (s *MongoStore) AppendMemory(ctx context.Context, personID, owner string, memory Memory) (Person, error) {
	filter, err := personFilter(personID, owner)
	if err != nil {
		return Person{}, err
	}
	update := bson.M{"$push": bson.M{"memories": memory}}
	return s.findPersonAndUpdate(ctx, filter, update, nil)
}

// SetMemory rewrites the title (and optionally the photo pointer) of one
// embedded Memory through an arrayFilters update, leaving sibling memories
// untouched under concurrent edits.
func (s *MongoStore) SetMemory(ctx context.Context, personID, owner, memoryID, title string, photo *string) (Person, error) {
	filter, err := personFilter(personID, owner)
	if err != nil {
		return Person{}, err
	}
	mid, err := primitive.ObjectIDFromHex(memoryID)
	if err != nil {
		return Person{}, ErrNotFound
	}

	fields := bson.M{"memories.$[m].title": title}
	if photo != nil {
		fields["memories.$[m].photo"] = *photo
	}
	update := bson.M{"$set": fields}
	arrayFilters := options.ArrayFilters{Filters: []interface{}{bson.M{"m._id": mid}}}
	return s.findPersonAndUpdate(ctx, filter, update, &arrayFilters)
}

// RemoveMemory pulls the subdocument by id and returns the updated Person.
func (s *MongoStore) RemoveMemory(ctx context.Context, personID, owner, memoryID string) (Person, error) {
	filter, err := personFilter(personID, owner)
	if err != nil {
		return Person{}, err
	}
	mid, err := primitive.ObjectIDFromHex(memoryID)
	if err != nil {
		return Person{}, ErrNotFound
	}
	update := bson.M{"$pull": bson.M{"memories": bson.M{"_id": mid}}}
	return s.findPersonAndUpdate(ctx, filter, update, nil)
}

// AppendComment pushes a Comment onto one embedded Memory's list and returns
// the updated Memory.
func (s *MongoStore) AppendComment(ctx context.Context, personID, owner, memoryID string, comment Comment) (Memory, error) {
	filter, err := personFilter(personID, owner)
	if err != nil {
		return Memory{}, err
	}
	mid, err := primitive.ObjectIDFromHex(memoryID)
	if err != nil {
		return Memory{}, ErrNotFound
	}
	update := bson.M{"$push": bson.M{"memories.$[m].comments": comment}}
	arrayFilters := options.ArrayFilters{Filters: []interface{}{bson.M{"m._id": mid}}}
	person, err := s.findPersonAndUpdate(ctx, filter, update, &arrayFilters)
	if err != nil {
		return Memory{}, err
	}
	for _, memory := range person.Memories {
		if memory.ID == mid {
			return memory, nil
		}
	}
	return Memory{}, ErrNotFound
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) findPersonAndUpdate(ctx context.Context, filter, update bson.M, arrayFilters *options.ArrayFilters) (Person, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if arrayFilters != nil {
		opts = opts.SetArrayFilters(*arrayFilters)
	}
	var person Person
	if err := s.people.FindOneAndUpdate(ctx, filter, update, opts).Decode(&person); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Person{}, ErrNotFound
		}
		return Person{}, fmt.Errorf("update person: %w", err)
	}
	return person, nil
}

// personFilter builds the mandatory (id, owner) compound filter. Malformed ids
// cannot match anything and map straight to ErrNotFound.
func personFilter(id, owner string) (bson.M, error) {
	pid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	ownerID, err := primitive.ObjectIDFromHex(owner)
	if err != nil {
		return nil, ErrNotFound
	}
	return bson.M{"_id": pid, "user": ownerID}, nil
}
