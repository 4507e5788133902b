package provider

import (
	"encoding/json"
	"errors"
	"net/http"
	"svccall/message"
)

const (
	contentTypeText = "text/plain; charset=utf-8"
	contentTypeJSON = "application/json"
)

func Text(status int, s string) *message.Reply {
	return &message.Reply{
		StatusCode: status,
		Body:       []byte(s),
		Headers:    map[string]string{"Content-Type": contentTypeText},
	}
}

// JSON encodes v with status 200, 500 when v cannot be encoded.
func JSON(v any) *message.Reply {
	data, err := json.Marshal(v)
	if err != nil {
		return Error(err)
	}
	return &message.Reply{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers:    map[string]string{"Content-Type": contentTypeJSON},
	}
}

// StatusError lets a handler pick the status of its failure.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

// Error replies with the status of a *StatusError, 500 otherwise.
func Error(err error) *message.Reply {
	var se *StatusError
	if errors.As(err, &se) {
		return Text(se.Status, se.Message)
	}
	return Text(http.StatusInternalServerError, err.Error())
}
