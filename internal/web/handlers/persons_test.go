package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-resolver/internal/database"
)

func TestPersonsHandler_List(t *testing.T) {
	handler := NewPersonsHandler(newSeededStore(t), nil)

	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest("GET", "/api/v1/persons", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var persons []database.Person
	parseJSONResponse(t, recorder, &persons)
	if len(persons) != 1 || persons[0].Name != "Alice" {
		t.Errorf("expected only Alice, got %+v", persons)
	}
}

func TestPersonsHandler_List_Search(t *testing.T) {
	store := newSeededStore(t)
	for _, name := range []string{"Jiří Novák", "Anna-Marie Svobodová"} {
		if _, err := store.AddPerson(context.Background(), name); err != nil {
			t.Fatalf("AddPerson: %v", err)
		}
	}
	handler := NewPersonsHandler(store, nil)

	tests := []struct {
		query    string
		expected []string
	}{
		{"jiri", []string{"Jiří Novák"}},
		{"anna%20marie", []string{"Anna-Marie Svobodová"}},
		{"OVA", []string{"Jiří Novák", "Anna-Marie Svobodová"}},
		{"nobody", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.List(recorder, httptest.NewRequest("GET", "/api/v1/persons?q="+tt.query, nil))

			assertStatusCode(t, recorder, http.StatusOK)
			var persons []database.Person
			parseJSONResponse(t, recorder, &persons)
			if len(persons) != len(tt.expected) {
				t.Fatalf("expected %d persons, got %+v", len(tt.expected), persons)
			}
			for _, name := range tt.expected {
				found := false
				for _, p := range persons {
					if p.Name == name {
						found = true
					}
				}
				if !found {
					t.Errorf("expected %q in %+v", name, persons)
				}
			}
		})
	}
}

func TestPersonsHandler_Create(t *testing.T) {
	store := newSeededStore(t)
	handler := NewPersonsHandler(store, NewStatsHandler(store))

	recorder := httptest.NewRecorder()
	handler.Create(recorder, jsonRequest("POST", "/api/v1/persons", `{"name": "Bohumil Hrabal"}`))

	assertStatusCode(t, recorder, http.StatusCreated)
	var person database.Person
	parseJSONResponse(t, recorder, &person)
	if person.ID == 0 || person.Name != "Bohumil Hrabal" {
		t.Errorf("unexpected person %+v", person)
	}
}

func TestPersonsHandler_Create_Duplicate(t *testing.T) {
	handler := NewPersonsHandler(newSeededStore(t), nil)

	recorder := httptest.NewRecorder()
	handler.Create(recorder, jsonRequest("POST", "/api/v1/persons", `{"name": "ALICE"}`))

	assertStatusCode(t, recorder, http.StatusConflict)
}

func TestPersonsHandler_Create_Invalid(t *testing.T) {
	handler := NewPersonsHandler(newSeededStore(t), nil)

	for _, body := range []string{`not json`, `{"name": "  "}`} {
		recorder := httptest.NewRecorder()
		handler.Create(recorder, jsonRequest("POST", "/api/v1/persons", body))
		assertStatusCode(t, recorder, http.StatusBadRequest)
	}
}
