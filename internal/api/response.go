package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nhle/mensabot/internal/store"
)

// Version is reported in every response envelope.
const Version = "v1"

// HeaderRequestID carries the request id in and out.
const HeaderRequestID = "X-Request-ID"

type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	RequestID string    `json:"requestId"`
}

// Response is the envelope around every body the API returns.
type Response struct {
	Data     any      `json:"data"`
	Errors   []string `json:"errors"`
	Metadata Metadata `json:"metadata"`
}

func newResponse(c *gin.Context, data any, errs []string) Response {
	if errs == nil {
		errs = []string{}
	}
	return Response{
		Data:   data,
		Errors: errs,
		Metadata: Metadata{
			Timestamp: time.Now().UTC(),
			Version:   Version,
			RequestID: requestID(c),
		},
	}
}

func requestID(c *gin.Context) string {
	if id := c.GetString(HeaderRequestID); id != "" {
		return id
	}
	return uuid.New().String()
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, newResponse(c, data, nil))
}

func fail(c *gin.Context, status int, msgs ...string) {
	c.AbortWithStatusJSON(status, newResponse(c, nil, msgs))
}

// failErr maps store errors to a status code.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case store.IsConflict(err):
		fail(c, http.StatusConflict, err.Error())
	case store.IsUnavailable(err):
		fail(c, http.StatusServiceUnavailable, err.Error())
	default:
		fail(c, http.StatusInternalServerError, err.Error())
	}
}
