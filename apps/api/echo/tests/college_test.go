package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/mbalire/internhub/core/college"
	"github.com/mbalire/internhub/core/student"
	"github.com/mbalire/internhub/core/user"
	testutil "github.com/mbalire/internhub/tests"
)

func createTempCollege(t *testing.T, name, submittedBy string) college.TempCollege {
	t.Helper()
	temp, err := colSvc.CreateTemp(context.Background(), college.NewTempCollege{
		Name:    name,
		Address: "Plot 5, Main Street",
		Contact: "0700123456",
	}, submittedBy)
	if err != nil {
		t.Fatalf("CreateTemp(): %v", err)
	}
	return temp
}

func upsertTempStudent(t *testing.T, id, collegeName, tempRef string) {
	t.Helper()
	err := stuSvc.Upsert(context.Background(), student.Profile{
		ID:              id,
		Name:            "Student " + id,
		Email:           id + "@test.ug",
		CollegeNameTemp: collegeName,
		CollegeTempRef:  tempRef,
	})
	if err != nil {
		t.Fatalf("Upsert(): %v", err)
	}
}

func decodePromoteResult(t *testing.T, data []byte) college.PromoteResult {
	t.Helper()
	var res college.PromoteResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("decodePromoteResult(): %v", err)
	}
	return res
}

func Test_collegeApi_promote(t *testing.T) {
	store.Reset()
	ctx := context.Background()

	admin := testutil.CreateUser(t, usrSvc, "Admin", "admin@test.ug", "Passw0rd!", user.RoleAdmin, true)
	stu := testutil.CreateUser(t, usrSvc, "Hero", "hero@test.ug", "Passw0rd!", user.RoleStudent, true)
	adminToken := getToken(t, admin)

	temp := createTempCollege(t, "Busitema University", stu.ID)
	upsertTempStudent(t, "stu-1", temp.Name, temp.ID)
	upsertTempStudent(t, "stu-2", temp.Name, temp.ID)

	t.Run("admins only", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/colleges/temp/"+temp.ID+"/promote", getToken(t, stu))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)
	})

	t.Run("unknown temp record", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/colleges/temp/nope/promote", adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})

	var masterID string

	t.Run("promotes and rewrites dependent students", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/colleges/temp/"+temp.ID+"/promote", adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		res := decodePromoteResult(t, rec.Body.Bytes())
		if res.Status != college.StatusPromoted {
			t.Errorf("Status = %s; want %s", res.Status, college.StatusPromoted)
		}
		if res.MasterID == "" || res.Name != temp.Name {
			t.Errorf("unexpected result: %+v", res)
		}
		if res.Updated != 2 {
			t.Errorf("Updated = %d; want 2", res.Updated)
		}
		masterID = res.MasterID

		resolved, err := colSvc.GetTemp(ctx, temp.ID)
		if err != nil {
			t.Fatalf("GetTemp(): %v", err)
		}
		if !resolved.Resolved || resolved.LinkedTo != res.MasterID || resolved.ResolvedBy != admin.ID {
			t.Errorf("temp not resolved as expected: %+v", resolved)
		}

		for _, id := range []string{"stu-1", "stu-2"} {
			profile, err := stuSvc.GetByUserID(ctx, id)
			if err != nil {
				t.Fatalf("GetByUserID(%s): %v", id, err)
			}
			if profile.CollegeID != res.MasterID || profile.CollegeNameTemp != "" {
				t.Errorf("profile %s not re-pointed: %+v", id, profile)
			}
		}
	})

	t.Run("second promote conflicts", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/colleges/temp/"+temp.ID+"/promote", adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusConflict {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("same name links to the existing master", func(t *testing.T) {
		dup := createTempCollege(t, "  busitema UNIVERSITY ", stu.ID)
		req, rec := newAuthRequest(http.MethodPost, "/v1/colleges/temp/"+dup.ID+"/promote", adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		res := decodePromoteResult(t, rec.Body.Bytes())
		if res.Status != college.StatusLinkedToExisting || res.MasterID != masterID {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("resume fan-out is idempotent", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/colleges/temp/"+temp.ID+"/resume-fanout", adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		res := decodePromoteResult(t, rec.Body.Bytes())
		if res.Updated != 0 {
			t.Errorf("Updated = %d; want 0", res.Updated)
		}
		if res.MasterID != masterID {
			t.Errorf("MasterID = %s; want %s", res.MasterID, masterID)
		}
	})

	t.Run("resume fan-out before promotion conflicts", func(t *testing.T) {
		pending := createTempCollege(t, "Kyambogo University", stu.ID)
		req, rec := newAuthRequest(http.MethodPost, "/v1/colleges/temp/"+pending.ID+"/resume-fanout", adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusConflict {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})
}

func Test_collegeApi_temp(t *testing.T) {
	store.Reset()

	admin := testutil.CreateUser(t, usrSvc, "Admin", "admin@test.ug", "Passw0rd!", user.RoleAdmin, true)
	stu := testutil.CreateUser(t, usrSvc, "Hero", "hero@test.ug", "Passw0rd!", user.RoleStudent, true)
	adminToken := getToken(t, admin)

	first := createTempCollege(t, "Busitema University", stu.ID)
	second := createTempCollege(t, "Kyambogo University", stu.ID)

	decodeList := func(t *testing.T, data []byte) []college.TempCollege {
		t.Helper()
		var temps []college.TempCollege
		if err := json.Unmarshal(data, &temps); err != nil {
			t.Fatalf("decoding temp list: %v", err)
		}
		return temps
	}

	t.Run("list is admin only", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/colleges/temp", getToken(t, stu))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)
	})

	t.Run("list newest first", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/colleges/temp", adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		temps := decodeList(t, rec.Body.Bytes())
		if len(temps) != 2 || temps[0].ID != second.ID || temps[1].ID != first.ID {
			t.Errorf("unexpected listing: %+v", temps)
		}
	})

	t.Run("invalid resolved filter", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/colleges/temp?resolved=maybe", adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("resolved filter", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/colleges/temp/"+first.ID+"/promote", adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("promote: code = %v; body %s", rec.Code, rec.Body.String())
		}

		req, rec = newAuthRequest(http.MethodGet, "/v1/colleges/temp?resolved=false", adminToken)
		app.ServeHTTP(rec, req)
		temps := decodeList(t, rec.Body.Bytes())
		if len(temps) != 1 || temps[0].ID != second.ID {
			t.Errorf("unexpected unresolved listing: %+v", temps)
		}

		req, rec = newAuthRequest(http.MethodGet, "/v1/colleges/temp?resolved=true", adminToken)
		app.ServeHTTP(rec, req)
		temps = decodeList(t, rec.Body.Bytes())
		if len(temps) != 1 || temps[0].ID != first.ID {
			t.Errorf("unexpected resolved listing: %+v", temps)
		}
	})

	t.Run("edit before promotion", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"name": "Kyambogo University Main Campus"})
		req, rec := newAuthRequest(http.MethodPut, "/v1/colleges/temp/"+second.ID, adminToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		var temp college.TempCollege
		if err := json.Unmarshal(rec.Body.Bytes(), &temp); err != nil {
			t.Fatalf("decoding temp: %v", err)
		}
		if temp.Name != "Kyambogo University Main Campus" {
			t.Errorf("Name = %q", temp.Name)
		}
	})

	t.Run("edit after promotion conflicts", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"name": "Renamed"})
		req, rec := newAuthRequest(http.MethodPut, "/v1/colleges/temp/"+first.ID, adminToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusConflict {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})
}

func Test_collegeApi_search(t *testing.T) {
	store.Reset()
	ctx := context.Background()

	admin := testutil.CreateUser(t, usrSvc, "Admin", "admin@test.ug", "Passw0rd!", user.RoleAdmin, true)
	stu := testutil.CreateUser(t, usrSvc, "Hero", "hero@test.ug", "Passw0rd!", user.RoleStudent, true)
	stuToken := getToken(t, stu)

	var masterIDs []string
	for _, name := range []string{"Busitema University", "Makerere University", "Mbarara University"} {
		temp := createTempCollege(t, name, stu.ID)
		res, err := colSvc.Promote(ctx, temp.ID, admin.Actor())
		if err != nil {
			t.Fatalf("Promote(%s): %v", name, err)
		}
		masterIDs = append(masterIDs, res.MasterID)
	}

	decodeList := func(t *testing.T, data []byte) []college.MasterCollege {
		t.Helper()
		var masters []college.MasterCollege
		if err := json.Unmarshal(data, &masters); err != nil {
			t.Fatalf("decoding master list: %v", err)
		}
		return masters
	}

	t.Run("auth required", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/colleges", nil)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
	})

	t.Run("no query lists all ordered by name", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/colleges", stuToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		masters := decodeList(t, rec.Body.Bytes())
		if len(masters) != 3 {
			t.Fatalf("got %d masters", len(masters))
		}
		if masters[0].Name != "Busitema University" || masters[2].Name != "Mbarara University" {
			t.Errorf("unexpected order: %+v", masters)
		}
	})

	t.Run("prefix search is case-insensitive", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/colleges?q=MAKE", stuToken)
		app.ServeHTTP(rec, req)
		masters := decodeList(t, rec.Body.Bytes())
		if len(masters) != 1 || masters[0].Name != "Makerere University" {
			t.Errorf("unexpected search result: %+v", masters)
		}
	})

	t.Run("no match", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/colleges?q=harvard", stuToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte("[]")}, rec)
	})

	t.Run("get master by id", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/colleges/"+masterIDs[0], stuToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		var master college.MasterCollege
		if err := json.Unmarshal(rec.Body.Bytes(), &master); err != nil {
			t.Fatalf("decoding master: %v", err)
		}
		if master.Name != "Busitema University" {
			t.Errorf("Name = %q", master.Name)
		}

		req, rec = newAuthRequest(http.MethodGet, "/v1/colleges/nope", stuToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})
}
