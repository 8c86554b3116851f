package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"keepsake/api/internal/store"
)

func TestAddMemoryRequiresTitle(t *testing.T) {
	personID := primitive.NewObjectID()
	fb := &fakeBlobs{}
	fs := &fakeStore{
		getPersonFn: func(_ context.Context, _, _ string) (store.Person, error) {
			return store.Person{ID: personID}, nil
		},
	}
	server, cookie := authedServer(fs, fb)

	body, contentType := multipartBody(t, nil, "photo", "beach.jpg", []byte("jpeg"))
	req := httptest.NewRequest(http.MethodPost, "/people/"+personID.Hex()+"/memories", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["message"] != "Title is required" {
		t.Fatalf("unexpected message: %v", payload["message"])
	}
	if len(fb.stored) != 0 {
		t.Fatalf("no blob may be stored on validation failure")
	}
}

func TestAddMemoryToMissingPersonSkipsUpload(t *testing.T) {
	fb := &fakeBlobs{}
	server, cookie := authedServer(&fakeStore{}, fb)

	body, contentType := multipartBody(t, map[string]string{"title": "Beach day"}, "photo", "beach.jpg", []byte("jpeg"))
	req := httptest.NewRequest(http.MethodPost, "/people/"+primitive.NewObjectID().Hex()+"/memories", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(fb.stored) != 0 {
		t.Fatalf("expected no blob stored for missing parent, got %v", fb.stored)
	}
}

func TestAddMemoryWithPhotoAndInitialComment(t *testing.T) {
	personID := primitive.NewObjectID()
	fb := &fakeBlobs{}
	var appended store.Memory
	fs := &fakeStore{
		getPersonFn: func(_ context.Context, _, _ string) (store.Person, error) {
			return store.Person{ID: personID, Name: "June"}, nil
		},
		appendMemoryFn: func(_ context.Context, _, _ string, memory store.Memory) (store.Person, error) {
			appended = memory
			return store.Person{ID: personID, Name: "June", Memories: []store.Memory{memory}}, nil
		},
	}
	server, cookie := authedServer(fs, fb)

	body, contentType := multipartBody(t, map[string]string{
		"title":   "Beach day",
		"comment": "What a day",
	}, "photo", "beach.jpg", []byte("jpeg"))
	req := httptest.NewRequest(http.MethodPost, "/people/"+personID.Hex()+"/memories", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if appended.Title != "Beach day" {
		t.Fatalf("expected title on appended memory, got %q", appended.Title)
	}
	if appended.Photo == nil || *appended.Photo != fb.stored[0] {
		t.Fatalf("expected memory to point at stored blob")
	}
	if len(appended.Comments) != 1 || appended.Comments[0].Text != "What a day" {
		t.Fatalf("expected seeded comment, got %+v", appended.Comments)
	}
}

func TestUpdateMemoryUnknownMemoryIsDistinct404(t *testing.T) {
	personID := primitive.NewObjectID()
	fs := &fakeStore{
		getPersonFn: func(_ context.Context, _, _ string) (store.Person, error) {
			return store.Person{ID: personID, Memories: []store.Memory{}}, nil
		},
	}
	server, cookie := authedServer(fs, &fakeBlobs{})

	body, contentType := multipartBody(t, map[string]string{"title": "New"}, "", "", nil)
	req := httptest.NewRequest(http.MethodPut, "/people/"+personID.Hex()+"/memories/"+primitive.NewObjectID().Hex(), body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["message"] != "Memory not found" {
		t.Fatalf("expected memory-level message, got %v", payload["message"])
	}
}

func TestUpdateMemoryReplacesTitleVerbatim(t *testing.T) {
	personID := primitive.NewObjectID()
	memoryID := primitive.NewObjectID()
	var setTitle string
	fs := &fakeStore{
		getPersonFn: func(_ context.Context, _, _ string) (store.Person, error) {
			return store.Person{ID: personID, Memories: []store.Memory{{ID: memoryID, Title: "Old"}}}, nil
		},
		setMemoryFn: func(_ context.Context, _, _, _, title string, _ *string) (store.Person, error) {
			setTitle = title
			return store.Person{ID: personID, Memories: []store.Memory{{ID: memoryID, Title: title}}}, nil
		},
	}
	server, cookie := authedServer(fs, &fakeBlobs{})

	body, contentType := multipartBody(t, map[string]string{"title": "Renamed"}, "", "", nil)
	req := httptest.NewRequest(http.MethodPut, "/people/"+personID.Hex()+"/memories/"+memoryID.Hex(), body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if setTitle != "Renamed" {
		t.Fatalf("expected title Renamed, got %q", setTitle)
	}
}

func TestDeleteMemoryReturnsUpdatedPerson(t *testing.T) {
	personID := primitive.NewObjectID()
	memoryID := primitive.NewObjectID()
	fb := &fakeBlobs{}
	fs := &fakeStore{
		getPersonFn: func(_ context.Context, _, _ string) (store.Person, error) {
			return store.Person{
				ID:       personID,
				Memories: []store.Memory{{ID: memoryID, Photo: strPtr("https://blobs.test/photos/beach.jpg")}},
			}, nil
		},
		removeMemoryFn: func(_ context.Context, _, _, id string) (store.Person, error) {
			if id != memoryID.Hex() {
				t.Fatalf("expected removal of %s, got %s", memoryID.Hex(), id)
			}
			return store.Person{ID: personID, Name: "June", Memories: []store.Memory{}}, nil
		},
	}
	server, cookie := authedServer(fs, fb)

	req := httptest.NewRequest(http.MethodDelete, "/people/"+personID.Hex()+"/memories/"+memoryID.Hex(), nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	memories, ok := payload["memories"].([]any)
	if !ok || len(memories) != 0 {
		t.Fatalf("expected empty memories in updated person, got %v", payload["memories"])
	}
	if len(fb.deleted) != 1 {
		t.Fatalf("expected memory photo blob cleaned up, got %v", fb.deleted)
	}
}

func TestAddCommentRequiresText(t *testing.T) {
	personID := primitive.NewObjectID()
	memoryID := primitive.NewObjectID()
	fs := &fakeStore{
		getPersonFn: func(_ context.Context, _, _ string) (store.Person, error) {
			return store.Person{ID: personID, Memories: []store.Memory{{ID: memoryID}}}, nil
		},
	}
	server, cookie := authedServer(fs, &fakeBlobs{})

	req := httptest.NewRequest(http.MethodPost,
		"/people/"+personID.Hex()+"/memories/"+memoryID.Hex()+"/comments",
		bytes.NewBufferString(`{"text":""}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAddCommentReturnsMemoryNotPerson(t *testing.T) {
	personID := primitive.NewObjectID()
	memoryID := primitive.NewObjectID()
	fs := &fakeStore{
		getPersonFn: func(_ context.Context, _, _ string) (store.Person, error) {
			return store.Person{ID: personID, Memories: []store.Memory{{ID: memoryID, Title: "Beach day"}}}, nil
		},
		appendCommentFn: func(_ context.Context, _, _, _ string, comment store.Comment) (store.Memory, error) {
			return store.Memory{ID: memoryID, Title: "Beach day", Comments: []store.Comment{comment}}, nil
		},
	}
	server, cookie := authedServer(fs, &fakeBlobs{})

	req := httptest.NewRequest(http.MethodPost,
		"/people/"+personID.Hex()+"/memories/"+memoryID.Hex()+"/comments",
		bytes.NewBufferString(`{"text":"Nice one"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["title"] != "Beach day" {
		t.Fatalf("expected memory document in response, got %v", payload)
	}
	if _, isPerson := payload["memories"]; isPerson {
		t.Fatalf("response must be the memory, not the whole person")
	}
	comments, ok := payload["comments"].([]any)
	if !ok || len(comments) != 1 {
		t.Fatalf("expected one comment in response, got %v", payload["comments"])
	}
}

func TestSequentialCommentsPreserveOrder(t *testing.T) {
	personID := primitive.NewObjectID()
	memoryID := primitive.NewObjectID()
	memory := store.Memory{ID: memoryID, Title: "Beach day", Comments: []store.Comment{}}
	fs := &fakeStore{
		getPersonFn: func(_ context.Context, _, _ string) (store.Person, error) {
			return store.Person{ID: personID, Memories: []store.Memory{memory}}, nil
		},
		appendCommentFn: func(_ context.Context, _, _, _ string, comment store.Comment) (store.Memory, error) {
			memory.Comments = append(memory.Comments, comment)
			return memory, nil
		},
	}
	server, cookie := authedServer(fs, &fakeBlobs{})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost,
			"/people/"+personID.Hex()+"/memories/"+memoryID.Hex()+"/comments",
			bytes.NewBufferString(fmt.Sprintf(`{"text":"comment %d"}`, i)))
		req.Header.Set("Content-Type", "application/json")
		req.AddCookie(cookie)
		rr := httptest.NewRecorder()

		server.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("comment %d: expected status 201, got %d body=%s", i, rr.Code, rr.Body.String())
		}
	}

	if len(memory.Comments) != 3 {
		t.Fatalf("expected three comments, got %d", len(memory.Comments))
	}
	for i, comment := range memory.Comments {
		if comment.Text != fmt.Sprintf("comment %d", i) {
			t.Fatalf("expected append order preserved, got %v at %d", comment.Text, i)
		}
	}
}

func TestAddCommentToMissingMemoryIsNotFound(t *testing.T) {
	personID := primitive.NewObjectID()
	fs := &fakeStore{
		getPersonFn: func(_ context.Context, _, _ string) (store.Person, error) {
			return store.Person{ID: personID, Memories: []store.Memory{}}, nil
		},
	}
	server, cookie := authedServer(fs, &fakeBlobs{})

	req := httptest.NewRequest(http.MethodPost,
		"/people/"+personID.Hex()+"/memories/"+primitive.NewObjectID().Hex()+"/comments",
		bytes.NewBufferString(`{"text":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}
