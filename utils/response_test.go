package utils

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSendErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		message    string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "error with details",
			statusCode: http.StatusBadRequest,
			message:    "bad request",
			err:        errors.New("invalid input"),
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"success":false,"error":"bad request","details":"invalid input"}`,
		},
		{
			name:       "error without details",
			statusCode: http.StatusInternalServerError,
			message:    "internal error",
			err:        nil,
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"success":false,"error":"internal error"}`,
		},
		{
			name:       "not found",
			statusCode: http.StatusNotFound,
			message:    "scan not found",
			err:        nil,
			wantStatus: http.StatusNotFound,
			wantBody:   `{"success":false,"error":"scan not found"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			SendErrorResponse(c, tt.statusCode, tt.message, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestSendSuccessResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		data       interface{}
		message    string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "success with data and message",
			statusCode: http.StatusOK,
			data:       map[string]string{"key": "value"},
			message:    "operation successful",
			wantStatus: http.StatusOK,
			wantBody:   `{"success":true,"data":{"key":"value"},"message":"operation successful"}`,
		},
		{
			name:       "success with only data",
			statusCode: http.StatusOK,
			data:       []int{1, 2, 3},
			message:    "",
			wantStatus: http.StatusOK,
			wantBody:   `{"success":true,"data":[1,2,3]}`,
		},
		{
			name:       "accepted response",
			statusCode: http.StatusAccepted,
			data:       map[string]bool{"triggered": true},
			message:    "scan enqueued",
			wantStatus: http.StatusAccepted,
			wantBody:   `{"success":true,"data":{"triggered":true},"message":"scan enqueued"}`,
		},
		{
			name:       "success with nil data",
			statusCode: http.StatusOK,
			data:       nil,
			message:    "no content",
			wantStatus: http.StatusOK,
			wantBody:   `{"success":true,"message":"no content"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			SendSuccessResponse(c, tt.statusCode, tt.data, tt.message)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestSendCountResponse(t *testing.T) {
	tests := []struct {
		name     string
		count    int64
		dryRun   bool
		wantBody string
	}{
		{
			name:     "real delete",
			count:    42,
			dryRun:   false,
			wantBody: `{"success":true,"count":42}`,
		},
		{
			name:     "dry run",
			count:    7,
			dryRun:   true,
			wantBody: `{"success":true,"count":7,"dryRun":true}`,
		},
		{
			name:     "nothing matched",
			count:    0,
			dryRun:   false,
			wantBody: `{"success":true,"count":0}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			SendCountResponse(c, http.StatusOK, tt.count, tt.dryRun)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}
