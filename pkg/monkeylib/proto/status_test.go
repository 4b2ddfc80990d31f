package proto

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantOK     bool
	}{
		{ErrHeadersTooLarge, 413, true},
		{ErrHeaderTooLarge, 413, true},
		{ErrRequestLineTooLarge, 414, true},
		{ErrURITooLong, 414, true},
		{ErrTooManyHeaders, 431, true},
		{ErrInvalidMethod, 501, true},
		{ErrInvalidRequestLine, 400, true},
		{ErrInvalidPath, 400, true},
		{ErrInvalidProtocol, 400, true},
		{ErrInvalidHeader, 400, true},
		{ErrChunkedEncoding, 400, true},
		{ErrInvalidContentLength, 400, true},
		{ErrContentLengthWithTransferEncoding, 400, true},
		{ErrDuplicateContentLength, 400, true},
		{ErrConnectionClosed, 0, false},
		{errors.New("some unrelated I/O error"), 0, false},
	}
	for _, c := range cases {
		status, ok := StatusForError(c.err)
		if status != c.wantStatus || ok != c.wantOK {
			t.Errorf("StatusForError(%v) = (%d, %v), want (%d, %v)", c.err, status, ok, c.wantStatus, c.wantOK)
		}
	}
}

func TestStatusForErrorUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("while parsing headers: %w", ErrHeadersTooLarge)
	status, ok := StatusForError(wrapped)
	if !ok || status != 413 {
		t.Errorf("StatusForError(wrapped) = (%d, %v), want (413, true) - errors.Is must see through %%w wrapping", status, ok)
	}
}

func TestStatusTextKnownAndUnknown(t *testing.T) {
	if StatusText(200) == "" {
		t.Error("StatusText(200) = \"\", want a non-empty reason phrase")
	}
	if StatusText(404) == "" {
		t.Error("StatusText(404) = \"\", want a non-empty reason phrase")
	}
}
