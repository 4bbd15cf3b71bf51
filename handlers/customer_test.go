package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"sosband-backend/models"

	"github.com/google/uuid"
)

func TestDashboardListsOwnedBracelets(t *testing.T) {
	db := freshDB()
	router := setupRouter(db, nil)
	ana, token := seedTestUser(db, "ana@test.com", models.RoleCustomer)
	rui, _ := seedTestUser(db, "rui@test.com", models.RoleCustomer)
	seedBracelet(db, "PUL001", &ana)
	seedBracelet(db, "PUL002", &rui)
	seedBracelet(db, "PUL003", nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("GET", "/dashboard", nil, token))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	bracelets := parseResponse(w)["bracelets"].([]interface{})
	if len(bracelets) != 1 {
		t.Fatalf("expected 1 bracelet, got %d", len(bracelets))
	}
	if bracelets[0].(map[string]interface{})["identificador"] != "PUL001" {
		t.Errorf("expected PUL001, got %v", bracelets[0])
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("GET", "/me/bracelets", nil, token))
	if w.Code != http.StatusOK || parseResponse(w)["total"] != float64(1) {
		t.Fatalf("expected one owned bracelet, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDashboardForbiddenForOtherRoles(t *testing.T) {
	db := freshDB()
	router := setupRouter(db, nil)
	_, token := seedTestUser(db, "admin@test.com", models.RoleAdmin)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("GET", "/me/bracelets", nil, token))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", w.Code)
	}
}

func TestGetBracelet(t *testing.T) {
	db := freshDB()
	router := setupRouter(db, nil)
	ana, token := seedTestUser(db, "ana@test.com", models.RoleCustomer)
	rui, _ := seedTestUser(db, "rui@test.com", models.RoleCustomer)
	own := seedBracelet(db, "PUL001", &ana)
	other := seedBracelet(db, "PUL002", &rui)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("GET", "/me/bracelets/"+own.ID.String(), nil, token))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := parseResponse(w)
	if resp["dados_sos"] != nil {
		t.Errorf("expected no profile yet, got %v", resp["dados_sos"])
	}
	if fields, ok := resp["campos"].([]interface{}); !ok || len(fields) != 0 {
		t.Errorf("expected empty field list, got %v", resp["campos"])
	}

	tests := []struct {
		name string
		id   string
		code int
	}{
		{"foreign bracelet", other.ID.String(), http.StatusForbidden},
		{"unknown bracelet", uuid.NewString(), http.StatusNotFound},
		{"malformed id", "PUL001", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, authRequest("GET", "/me/bracelets/"+tt.id, nil, token))
			if w.Code != tt.code {
				t.Fatalf("expected status %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestUpdateProfileMergesFields(t *testing.T) {
	db := freshDB()
	router := setupRouter(db, nil)
	ana, token := seedTestUser(db, "ana@test.com", models.RoleCustomer)
	b := seedBracelet(db, "PUL001", &ana)
	url := "/me/bracelets/" + b.ID.String()

	first := map[string]interface{}{
		"nome":      "Ana Silva",
		"alergias":  "Penicilina",
		"contactos": []map[string]string{{"prefixo": "+351", "numero": "912345678"}},
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("PATCH", url, first, token))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("PATCH", url, map[string]string{"observacoes": "Usa óculos"}, token))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := parseResponse(w)
	if resp["nome"] != "Ana Silva" || resp["alergias"] != "Penicilina" || resp["observacoes"] != "Usa óculos" {
		t.Fatalf("expected merged profile, got %v", resp)
	}
	if contacts := resp["contactos"].([]interface{}); len(contacts) != 1 {
		t.Fatalf("expected contacts to be kept, got %v", resp["contactos"])
	}
}

func TestUpdateProfileValidation(t *testing.T) {
	db := freshDB()
	router := setupRouter(db, nil)
	ana, token := seedTestUser(db, "ana@test.com", models.RoleCustomer)
	rui, _ := seedTestUser(db, "rui@test.com", models.RoleCustomer)
	b := seedBracelet(db, "PUL001", &ana)
	other := seedBracelet(db, "PUL002", &rui)

	contact := map[string]string{"prefixo": "+351", "numero": "912345678"}
	tests := []struct {
		name string
		id   uuid.UUID
		body map[string]interface{}
		code int
	}{
		{"too many contacts", b.ID, map[string]interface{}{"contactos": []map[string]string{contact, contact, contact, contact}}, http.StatusBadRequest},
		{"bad birth date", b.ID, map[string]interface{}{"data_nascimento": "01/02/1990"}, http.StatusBadRequest},
		{"photo not a url", b.ID, map[string]interface{}{"foto": "javascript:alert(1)"}, http.StatusBadRequest},
		{"foreign bracelet", other.ID, map[string]interface{}{"nome": "Mallory"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, authRequest("PATCH", "/me/bracelets/"+tt.id.String(), tt.body, token))
			if w.Code != tt.code {
				t.Fatalf("expected status %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}

	var count int64
	db.Model(&models.SosProfile{}).Count(&count)
	if count != 0 {
		t.Fatalf("rejected updates must not create profiles, found %d", count)
	}
}

func TestAddField(t *testing.T) {
	db := freshDB()
	router := setupRouter(db, nil)
	ana, token := seedTestUser(db, "ana@test.com", models.RoleCustomer)
	b := seedBracelet(db, "PUL001", &ana)
	seedField(db, b.ID, "Nome", 1)
	seedField(db, b.ID, "Telefone", 4)
	url := "/me/bracelets/" + b.ID.String() + "/fields"

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("POST", url, map[string]string{"rotulo": "Sangue", "valor": "O+"}, token))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	if parseResponse(w)["ordem"] != float64(5) {
		t.Fatalf("expected order 5, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("POST", url, map[string]interface{}{"rotulo": "Nota", "valor": "x", "ordem": -1}, token))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for negative order, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("POST", url, map[string]string{"valor": "x"}, token))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without label, got %d", w.Code)
	}
}

func TestUpdateAndDeleteField(t *testing.T) {
	db := freshDB()
	router := setupRouter(db, nil)
	ana, anaToken := seedTestUser(db, "ana@test.com", models.RoleCustomer)
	_, ruiToken := seedTestUser(db, "rui@test.com", models.RoleCustomer)
	b := seedBracelet(db, "PUL001", &ana)
	f := seedField(db, b.ID, "Nome", 1)
	url := "/me/fields/" + f.ID.String()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("PATCH", url, map[string]string{"valor": "Ana Maria"}, ruiToken))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for another customer, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("PATCH", url, map[string]interface{}{"valor": "Ana Maria", "ordem": 7}, anaToken))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := parseResponse(w)
	if resp["valor"] != "Ana Maria" || resp["rotulo"] != "Nome" || resp["ordem"] != float64(7) {
		t.Fatalf("unexpected field: %v", resp)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("DELETE", url, nil, ruiToken))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for another customer, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("DELETE", url, nil, anaToken))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var count int64
	db.Model(&models.CustomField{}).Where("id = ?", f.ID).Count(&count)
	if count != 0 {
		t.Fatal("expected field to be deleted")
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("DELETE", url, nil, anaToken))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for deleted field, got %d", w.Code)
	}
}

func TestReorderFields(t *testing.T) {
	db := freshDB()
	router := setupRouter(db, nil)
	ana, token := seedTestUser(db, "ana@test.com", models.RoleCustomer)
	b := seedBracelet(db, "PUL001", &ana)
	first := seedField(db, b.ID, "First", 1)
	second := seedField(db, b.ID, "Second", 2)
	url := "/me/bracelets/" + b.ID.String() + "/fields/order"

	body := []map[string]interface{}{
		{"id": first.ID.String(), "ordem": 2},
		{"id": second.ID.String(), "ordem": 1},
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("PUT", url, body, token))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	fields := parseResponseArray(w)
	if len(fields) != 2 || fields[0].(map[string]interface{})["rotulo"] != "Second" {
		t.Fatalf("expected Second first, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("PUT", url, []map[string]interface{}{{"id": uuid.NewString(), "ordem": 1}}, token))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for a foreign field, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authRequest("PUT", url, []map[string]interface{}{}, token))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for an empty list, got %d", w.Code)
	}
}

func TestUploadPhotoDisabled(t *testing.T) {
	db := freshDB()
	router := setupRouter(db, nil)
	ana, token := seedTestUser(db, "ana@test.com", models.RoleCustomer)
	b := seedBracelet(db, "PUL001", &ana)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartRequest("/me/bracelets/"+b.ID.String()+"/photo", "foto", "me.png", "image/png", []byte("png"), token))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
}

func TestUploadPhotoReplacesPrevious(t *testing.T) {
	db := freshDB()
	storage := newMockStorage()
	router := setupRouter(db, storage)
	ana, token := seedTestUser(db, "ana@test.com", models.RoleCustomer)
	b := seedBracelet(db, "PUL001", &ana)
	oldURL := "https://storage.googleapis.com/test-bucket/profiles/" + b.ID.String() + "/old.png"
	seedProfile(db, b.ID, oldURL)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartRequest("/me/bracelets/"+b.ID.String()+"/photo", "foto", "me.png", "image/png", []byte("png-bytes"), token))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	want := "https://storage.googleapis.com/test-bucket/profiles/" + b.ID.String() + "/1_me.png"
	resp := parseResponse(w)
	if resp["foto"] != want {
		t.Fatalf("expected foto %s, got %v", want, resp["foto"])
	}
	if resp["nome"] != "Ana" {
		t.Errorf("upload must keep the other profile fields, got %v", resp["nome"])
	}
	if string(storage.UploadedBytes) != "png-bytes" {
		t.Errorf("unexpected uploaded content %q", storage.UploadedBytes)
	}
	if len(storage.DeleteFileCalls) != 1 || storage.DeleteFileCalls[0] != "profiles/"+b.ID.String()+"/old.png" {
		t.Fatalf("expected old photo to be deleted, got %v", storage.DeleteFileCalls)
	}
}

func TestUploadPhotoRejections(t *testing.T) {
	db := freshDB()
	storage := newMockStorage()
	router := setupRouter(db, storage)
	ana, token := seedTestUser(db, "ana@test.com", models.RoleCustomer)
	rui, _ := seedTestUser(db, "rui@test.com", models.RoleCustomer)
	own := seedBracelet(db, "PUL001", &ana)
	other := seedBracelet(db, "PUL002", &rui)

	tests := []struct {
		name        string
		id          uuid.UUID
		field       string
		contentType string
		code        int
	}{
		{"foreign bracelet", other.ID, "foto", "image/png", http.StatusForbidden},
		{"wrong form field", own.ID, "file", "image/png", http.StatusBadRequest},
		{"not an image", own.ID, "foto", "text/plain", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, multipartRequest("/me/bracelets/"+tt.id.String()+"/photo", tt.field, "x.png", tt.contentType, []byte("x"), token))
			if w.Code != tt.code {
				t.Fatalf("expected status %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}
	if storage.UploadCallCount != 0 {
		t.Fatalf("rejected requests must not upload, got %d uploads", storage.UploadCallCount)
	}
}

func TestUploadPhotoStorageFailure(t *testing.T) {
	db := freshDB()
	storage := newMockStorage()
	storage.UploadProfilePhotoFn = func(uuid.UUID, string, string) (string, error) {
		return "", errors.New("bucket unavailable")
	}
	router := setupRouter(db, storage)
	ana, token := seedTestUser(db, "ana@test.com", models.RoleCustomer)
	b := seedBracelet(db, "PUL001", &ana)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartRequest("/me/bracelets/"+b.ID.String()+"/photo", "foto", "me.png", "image/png", []byte("x"), token))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d: %s", w.Code, w.Body.String())
	}

	var count int64
	db.Model(&models.SosProfile{}).Count(&count)
	if count != 0 {
		t.Fatal("failed upload must not create a profile")
	}
}
