package tests

import (
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"testing"
	"time"

	echoapi "github.com/trezcool/muziki/apps/api/echo"
	"github.com/trezcool/muziki/core"
	"github.com/trezcool/muziki/core/user"
	emailsvc "github.com/trezcool/muziki/services/email"
)

func Test_userApi_register(t *testing.T) {
	f := setup(t)

	body := []byte(`{
		"first_name": "Awe",
		"last_name": "Test",
		"email": "awe@test.cd",
		"role": "student",
		"password": "Str0ng&Secret",
		"password_confirm": "Str0ng&Secret"
	}`)

	req, rec := newRequest(http.MethodPost, "/v1/users/register", body)
	f.app.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var usr user.User
	if err := json.Unmarshal(rec.Body.Bytes(), &usr); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if usr.ID == "" {
		t.Error("register did not assign an ID")
	}
	if usr.Status != user.StatusActive {
		t.Errorf("status = %s, want %s", usr.Status, user.StatusActive)
	}
	if len(emailsvc.SentMessages) != 1 {
		t.Errorf("register sent %d emails, want 1", len(emailsvc.SentMessages))
	}

	// a second registration with the same email is rejected
	req, rec = newRequest(http.MethodPost, "/v1/users/register", body)
	f.app.ServeHTTP(rec, req)
	tt := httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, map[string]string{"email": "a user with this email already exists"}),
	}
	checkCodeAndData(t, tt, rec)

	// password policy applies
	req, rec = newRequest(http.MethodPost, "/v1/users/register", []byte(`{
		"first_name": "Weak",
		"last_name": "Test",
		"email": "weak@test.cd",
		"role": "student",
		"password": "abc",
		"password_confirm": "abc"
	}`))
	f.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, http.StatusBadRequest)
	}
}

func Test_userApi_login(t *testing.T) {
	f := setup(t)

	createUser(t, f.usrRepo, "Hero", "hero@test.cd", user.RoleStudent, "Str0ng&Secret", true)
	createUser(t, f.usrRepo, "N Dog", "ndog@test.cd", user.RoleStudent, "Str0ng&Secret", false) // 😂

	tests := []httpTest{
		{
			name: "Unknown email fails", body: []byte(`{"email": "who@test.cd", "password": "Str0ng&Secret"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "Wrong password fails", body: []byte(`{"email": "hero@test.cd", "password": "nope"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "Inactive user not allowed", body: []byte(`{"email": "ndog@test.cd", "password": "Str0ng&Secret"}`),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			f.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("Login ok", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/users/login", []byte(`{"email": "hero@test.cd", "password": "Str0ng&Secret"}`))
		f.app.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		var resp echoapi.LoginResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if resp.Token == "" {
			t.Error("login did not return a token")
		}
	})
}

func Test_userApi_me(t *testing.T) {
	f := setup(t)

	student := createUser(t, f.usrRepo, "Hero", "hero@test.cd", user.RoleStudent, "", true)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Me", token: getToken(t, student), wantCode: http.StatusOK, wantData: marchallObj(t, student)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/users/me", tt.token)
			f.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_query(t *testing.T) {
	f := setup(t)

	now := time.Now()
	admin := createUser(t, f.usrRepo, "Admin", "admin@test.cd", user.RoleAdmin, "", true, now.Add(1*time.Hour))
	teacher := createUser(t, f.usrRepo, "Teacher", "teacher@test.cd", user.RoleTeacher, "", true, now.Add(2*time.Hour))
	student := createUser(t, f.usrRepo, "Hero", "hero@test.cd", user.RoleStudent, "", true, now.Add(3*time.Hour))
	naughty := createUser(t, f.usrRepo, "N Dog", "ndog@test.cd", user.RoleStudent, "", false, now.Add(4*time.Hour)) // 😂

	adminToken := getToken(t, admin)
	empty := marchallList(t, []interface{}{}...)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/users", token: getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Get all", path: "/v1/users", token: adminToken, wantData: marchallList(t, naughty, student, teacher, admin)},
		// filtering
		{name: "search (unknown)", path: "/v1/users?search=lol", token: adminToken, wantData: empty},
		{name: "search=hero", path: "/v1/users?search=hero", token: adminToken, wantData: marchallList(t, student)},
		{name: "role=teacher", path: "/v1/users?role=teacher", token: adminToken, wantData: marchallList(t, teacher)},
		{name: "status=inactive", path: "/v1/users?status=inactive", token: adminToken, wantData: marchallList(t, naughty)},
		{
			name: "created_from", path: "/v1/users?created_from=" + url.QueryEscape(now.Add(150*time.Minute).UTC().Format(time.RFC3339)),
			token: adminToken, wantData: marchallList(t, naughty, student),
		},
		// ordering
		{name: "order by created_at", path: "/v1/users?ordering=created_at", token: adminToken, wantData: marchallList(t, admin, teacher, student, naughty)},
		{name: "order by -created_at", path: "/v1/users?ordering=-created_at", token: adminToken, wantData: marchallList(t, naughty, student, teacher, admin)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			f.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_detail(t *testing.T) {
	f := setup(t)

	admin := createUser(t, f.usrRepo, "Admin", "admin@test.cd", user.RoleAdmin, "", true)
	student := createUser(t, f.usrRepo, "Hero", "hero@test.cd", user.RoleStudent, "", true)
	other := createUser(t, f.usrRepo, "Other", "other@test.cd", user.RoleStudent, "", true)

	adminToken := getToken(t, admin)
	studentToken := getToken(t, student)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/users/" + student.ID, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Get self", path: "/v1/users/" + student.ID, token: studentToken, wantData: marchallObj(t, student)},
		{name: "Admin gets any", path: "/v1/users/" + student.ID, token: adminToken, wantData: marchallObj(t, student)},
		{
			name: "Existence is hidden from non-admins", path: "/v1/users/" + other.ID, token: studentToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "Unknown ID", path: "/v1/users/8a7b2f64-4f61-443b-9029-e6fc2f83332e", token: adminToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			f.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_update(t *testing.T) {
	f := setup(t)

	admin := createUser(t, f.usrRepo, "Admin", "admin@test.cd", user.RoleAdmin, "", true)
	student := createUser(t, f.usrRepo, "Hero", "hero@test.cd", user.RoleStudent, "", true)

	t.Run("Self update", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+student.ID, getToken(t, student), []byte(`{"first_name": "Shero"}`))
		f.app.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		var usr user.User
		if err := json.Unmarshal(rec.Body.Bytes(), &usr); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if usr.FirstName != "Shero" {
			t.Errorf("first_name = %s, want Shero", usr.FirstName)
		}
	})

	t.Run("Status is admin-only", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+student.ID, getToken(t, student), []byte(`{"status": "inactive"}`))
		f.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)
	})

	t.Run("Admin flips status", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+student.ID, getToken(t, admin), []byte(`{"status": "inactive"}`))
		f.app.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		var usr user.User
		if err := json.Unmarshal(rec.Body.Bytes(), &usr); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if usr.Status != user.StatusInactive {
			t.Errorf("status = %s, want %s", usr.Status, user.StatusInactive)
		}
	})
}

func Test_userApi_destroy(t *testing.T) {
	f := setup(t)

	admin := createUser(t, f.usrRepo, "Admin", "admin@test.cd", user.RoleAdmin, "", true)
	student := createUser(t, f.usrRepo, "Hero", "hero@test.cd", user.RoleStudent, "", true)

	adminToken := getToken(t, admin)

	t.Run("Admin required", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/users/"+student.ID, getToken(t, student))
		f.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)
	})

	t.Run("Say No to Suicide", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/users/"+admin.ID, adminToken)
		f.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)
	})

	t.Run("Admin deletes", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/users/"+student.ID, adminToken)
		f.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("failed! code = %v; wantCode %v", rec.Code, http.StatusNoContent)
		}

		req, rec = newAuthRequest(http.MethodGet, "/v1/users/"+student.ID, adminToken)
		f.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("failed! code = %v; wantCode %v", rec.Code, http.StatusNotFound)
		}
	})
}

func Test_userApi_refreshToken(t *testing.T) {
	f := setup(t)

	student := createUser(t, f.usrRepo, "Hero", "hero@test.cd", user.RoleStudent, "", true)
	naughty := createUser(t, f.usrRepo, "N Dog", "ndog@test.cd", user.RoleStudent, "", false) // 😂

	// a token whose refresh window has passed
	oriat := time.Now().Add(-2 * core.Conf.Server.JWTRefreshExpirationDelta).Unix()
	unrefreshableToken, err := echoapi.GenerateToken(echoapi.GetUserClaims(student, oriat))
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Inactive user not allowed", token: getToken(t, naughty),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "Refresh period expired", token: unrefreshableToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"}),
		},
		{name: "Token refreshed", token: getToken(t, student), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/users/token-refresh", tt.token)
			f.app.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantData != nil {
				checkCodeAndData(t, tt, rec)
			} else {
				var resp echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				if resp.Token == "" {
					t.Error("refresh did not return a token")
				}
			}
		})
	}
}

func Test_userApi_passwordReset(t *testing.T) {
	f := setup(t)

	createUser(t, f.usrRepo, "Hero", "hero@test.cd", user.RoleStudent, "Str0ng&Secret", true)
	emailsvc.SentMessages = emailsvc.SentMessages[:0]

	successResp := marchallObj(t, echoapi.SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})

	// an unknown email gets the same response; existence is not leaked
	req, rec := newRequest(http.MethodPost, "/v1/users/password-reset", []byte(`{"email": "who@test.cd"}`))
	f.app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: successResp}, rec)
	if len(emailsvc.SentMessages) != 0 {
		t.Fatalf("password-reset sent %d emails, want 0", len(emailsvc.SentMessages))
	}

	req, rec = newRequest(http.MethodPost, "/v1/users/password-reset", []byte(`{"email": "hero@test.cd"}`))
	f.app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: successResp}, rec)
	if len(emailsvc.SentMessages) != 1 {
		t.Fatalf("password-reset sent %d emails, want 1", len(emailsvc.SentMessages))
	}

	re := regexp.MustCompile(`uid=([^&\s]+)&token=(\S+)`)
	match := re.FindStringSubmatch(emailsvc.SentMessages[0].Body)
	if match == nil {
		t.Fatalf("reset link not found in email body: %s", emailsvc.SentMessages[0].Body)
	}

	confirmBody := marchallObj(t, user.ResetUserPassword{
		UID:             match[1],
		Token:           match[2],
		Password:        "N3w&Secret!",
		PasswordConfirm: "N3w&Secret!",
	})
	req, rec = newRequest(http.MethodPost, "/v1/users/password-reset-confirm", confirmBody)
	f.app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusOK,
		wantData: marchallObj(t, echoapi.SuccessResponse{Success: "Password has been reset with the new password."}),
	}, rec)

	// the new password works
	req, rec = newRequest(http.MethodPost, "/v1/users/login", []byte(`{"email": "hero@test.cd", "password": "N3w&Secret!"}`))
	f.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("login with the new password failed! code = %v; body %s", rec.Code, rec.Body.String())
	}
}
