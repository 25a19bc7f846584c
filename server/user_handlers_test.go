package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestCreateUserHashesCredential(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/users", map[string]string{
		"username": "analyst1",
		"email":    "analyst1@example.com",
		"password": "s3cret-pass",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var body struct {
		Message string `json:"message"`
		ID      uint   `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, "User added successfully!", body.Message)
	require.NotZero(t, body.ID)

	var user User
	require.NoError(t, env.server.db.First(&user, body.ID).Error)
	require.Equal(t, "analyst", user.Role)
	require.NotEqual(t, "s3cret-pass", user.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cret-pass")))
}

func TestListUsersOmitsCredentialHash(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/users", map[string]string{
		"username": "analyst1",
		"password": "s3cret-pass",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = env.do(t, http.MethodGet, "/api/users", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotContains(t, resp.Body.String(), "password")
	require.NotContains(t, resp.Body.String(), "hash")

	var users []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &users))
	require.Len(t, users, 1)
	require.Equal(t, "analyst1", users[0]["username"])
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	env := newTestEnv(t)

	payload := map[string]string{"username": "analyst1", "password": "pw"}
	resp := env.do(t, http.MethodPost, "/api/users", payload, nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = env.do(t, http.MethodPost, "/api/users", payload, nil)
	require.Equal(t, http.StatusConflict, resp.Code)
}

func TestCreateUserValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []map[string]string{
		{"password": "pw"},
		{"username": "analyst1"},
		{"username": "   ", "password": "pw"},
	}
	for _, payload := range cases {
		resp := env.do(t, http.MethodPost, "/api/users", payload, nil)
		require.Equal(t, http.StatusBadRequest, resp.Code, fmt.Sprintf("%v", payload))
	}
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/users", map[string]string{
		"username": "analyst1",
		"password": "pw",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	var body struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))

	resp = env.do(t, http.MethodDelete, fmt.Sprintf("/api/users/%d", body.ID), nil, nil)
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = env.do(t, http.MethodDelete, fmt.Sprintf("/api/users/%d", body.ID), nil, nil)
	require.Equal(t, http.StatusNotFound, resp.Code)

	resp = env.do(t, http.MethodDelete, "/api/users/not-a-number", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}
