// Package sheettest provides an in-process stand-in for the spreadsheet read
// proxy and form endpoint.
package sheettest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"kafer/internal/adapters/codec"
	"kafer/internal/domain/record"
)

// Server serves GET /read as a JSON array of rows and accepts POST /write
// form submissions, appending the payload field as a new row.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	field       string
	entry       string
	rows        []map[string]any
	pending     []pendingRow
	lag         int
	failReads   bool
	failWrites  bool
	reads       int
	submissions int
}

type pendingRow struct {
	row       map[string]any
	readsLeft int
}

// NewServer starts a fake sheet. Callers must Close it.
func NewServer(payloadField, formEntry string) *Server {
	s := &Server{field: payloadField, entry: formEntry}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /read", s.handleRead)
	mux.HandleFunc("POST /write", s.handleWrite)
	s.Server = httptest.NewServer(mux)
	return s
}

// ReadURL is the read proxy endpoint.
func (s *Server) ReadURL() string { return s.URL + "/read" }

// WriteURL is the form submission endpoint.
func (s *Server) WriteURL() string { return s.URL + "/write" }

// AddRow appends a raw row that is immediately visible.
func (s *Server) AddRow(row map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
}

// AddRecord encodes rec with enc and appends it as a visible row.
func (s *Server) AddRecord(enc codec.Encoder, rec record.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	opaque, err := enc.Encode(string(b))
	if err != nil {
		return err
	}
	s.AddRow(map[string]any{"Timestamp": rec.Timestamp.Format(time.RFC3339), s.field: opaque})
	return nil
}

// Rows returns a copy of the visible rows.
func (s *Server) Rows() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.rows))
	copy(out, s.rows)
	return out
}

// SetVisibilityLag delays each submitted row until n further reads have happened.
func (s *Server) SetVisibilityLag(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lag = n
}

// SetFailReads makes GET /read answer 500.
func (s *Server) SetFailReads(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = fail
}

// SetFailWrites makes POST /write drop the connection.
func (s *Server) SetFailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = fail
}

// Reads returns the number of GET /read requests served.
func (s *Server) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Submissions returns the number of POST /write requests accepted.
func (s *Server) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissions
}

func (s *Server) handleRead(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.reads++
	if s.failReads {
		s.mu.Unlock()
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}
	var still []pendingRow
	for _, p := range s.pending {
		if p.readsLeft <= 0 {
			s.rows = append(s.rows, p.row)
			continue
		}
		p.readsLeft--
		still = append(still, p)
	}
	s.pending = still
	rows := make([]map[string]any, len(s.rows))
	copy(rows, s.rows)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.failWrites
	s.mu.Unlock()
	if fail {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	value := r.PostForm.Get("entry." + s.entry)

	s.mu.Lock()
	s.submissions++
	row := map[string]any{"Timestamp": time.Now().UTC().Format(time.RFC3339), s.field: value}
	if s.lag > 0 {
		s.pending = append(s.pending, pendingRow{row: row, readsLeft: s.lag})
	} else {
		s.rows = append(s.rows, row)
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}
