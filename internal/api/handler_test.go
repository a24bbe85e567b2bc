package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/events"
	"github.com/ripkitten-co/grantbook/indexer"
	"github.com/ripkitten-co/grantbook/projections"
	"github.com/ripkitten-co/grantbook/recipient"
	"github.com/ripkitten-co/grantbook/snapshot"
)

const registryHex = "0x00000000000000000000000000000000000000AA"

type fakeSnapshots struct {
	window   recipient.Window
	projects []snapshot.Project
	err      error
}

func (f *fakeSnapshots) ListRecipients(_ context.Context, _ common.Address, w recipient.Window) ([]snapshot.Project, error) {
	f.window = w
	return f.projects, f.err
}

func (f *fakeSnapshots) GetRecipient(_ context.Context, _ common.Address, id string) (*snapshot.Project, error) {
	for _, p := range f.projects {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("snapshot: get %s: %w", id, grantbook.ErrNotFound)
}

type fakeReadModel struct {
	registry string
	recs     []*recipient.Recipient
}

func (f *fakeReadModel) Recipients(_ context.Context, registry string) ([]*recipient.Recipient, error) {
	f.registry = registry
	return f.recs, nil
}

func (f *fakeReadModel) Summary(_ context.Context, registry string) (*indexer.RegistrySummary, error) {
	if registry != "0x00000000000000000000000000000000000000aa" {
		return nil, grantbook.ErrNotFound
	}
	return &indexer.RegistrySummary{ID: registry, Added: 2, Removed: 1, LastBlock: 9}, nil
}

type fakeSubmitter struct {
	payout   common.Address
	metadata string
}

func (f *fakeSubmitter) Submit(_ context.Context, _, payout common.Address, metadata string) (common.Hash, error) {
	f.payout, f.metadata = payout, metadata
	return common.HexToHash("0xabc"), nil
}

type fakeEventLog struct {
	stream string
	from   uint64
}

func (f *fakeEventLog) ReadStream(_ context.Context, streamID string, fromBlock uint64) ([]events.Event, error) {
	f.stream, f.from = streamID, fromBlock
	return []events.Event{{
		StreamID:       streamID,
		Type:           recipient.EventRemoved,
		BlockNumber:    12,
		LogIndex:       3,
		TxHash:         "0xfeed",
		Data:           []byte(`{"timestamp":1800000000}`),
		GlobalPosition: 7,
	}}, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type fakeCheckpoints []projections.Checkpoint

func (f fakeCheckpoints) List(context.Context) ([]projections.Checkpoint, error) { return f, nil }

type HandlerSuite struct {
	suite.Suite
	snapshots *fakeSnapshots
	readModel *fakeReadModel
	submitter *fakeSubmitter
	eventLog  *fakeEventLog
	router    http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.snapshots = &fakeSnapshots{projects: []snapshot.Project{
		{ID: "0x01", Address: "0xabc", Index: 1, Metadata: recipient.Metadata{Name: "A"}},
	}}
	s.readModel = &fakeReadModel{}
	s.submitter = &fakeSubmitter{}
	s.eventLog = &fakeEventLog{}
	h := New(s.snapshots, s.readModel, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithSubmitter(s.submitter),
		WithEventLog(s.eventLog),
		WithCheckpoints(fakeCheckpoints{{Name: "recipients", Position: 4, Status: projections.StatusRunning}}),
		WithHealthCheck("postgres", pinger{}),
	)
	s.router = h.Router(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	}))
}

func (s *HandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestListRecipients() {
	s.Run("passes the window", func() {
		rec := s.do(http.MethodGet, "/registries/"+registryHex+"/recipients?start=100&end=200", "")
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal(recipient.Window{Start: 100, End: 200}, s.snapshots.window)
		s.Contains(rec.Body.String(), `"name":"A"`)
		s.Equal("application/json", rec.Header().Get("Content-Type"))
	})

	s.Run("window defaults to open", func() {
		rec := s.do(http.MethodGet, "/registries/"+registryHex+"/recipients", "")
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal(recipient.Window{}, s.snapshots.window)
	})

	s.Run("rejects a bad window", func() {
		rec := s.do(http.MethodGet, "/registries/"+registryHex+"/recipients?start=-1", "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("rejects a bad registry", func() {
		rec := s.do(http.MethodGet, "/registries/nope/recipients", "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("fetch failure is a 500 without details", func() {
		s.snapshots.err = errors.New("rpc down")
		defer func() { s.snapshots.err = nil }()
		rec := s.do(http.MethodGet, "/registries/"+registryHex+"/recipients", "")
		s.Equal(http.StatusInternalServerError, rec.Code)
		s.NotContains(rec.Body.String(), "rpc down")
	})
}

func (s *HandlerSuite) TestGetRecipient() {
	rec := s.do(http.MethodGet, "/registries/"+registryHex+"/recipients/0x01", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"id":"0x01"`)

	rec = s.do(http.MethodGet, "/registries/"+registryHex+"/recipients/0x02", "")
	s.Equal(http.StatusNotFound, rec.Code)
	s.JSONEq(`{"error":"not_found","error_description":"not found"}`, rec.Body.String())
}

func (s *HandlerSuite) TestIndexed() {
	rec := s.do(http.MethodGet, "/registries/"+registryHex+"/indexed", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("0x00000000000000000000000000000000000000aa", s.readModel.registry)
	s.JSONEq(`[]`, rec.Body.String())
}

func (s *HandlerSuite) TestSummary() {
	rec := s.do(http.MethodGet, "/registries/"+registryHex+"/summary", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"id":"0x00000000000000000000000000000000000000aa","added":2,"removed":1,"lastBlock":9}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/registries/0x00000000000000000000000000000000000000bb/summary", "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestEvents() {
	s.Run("lists the stored stream", func() {
		rec := s.do(http.MethodGet, "/registries/"+registryHex+"/events?from=10", "")
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal("0x00000000000000000000000000000000000000aa", s.eventLog.stream)
		s.Equal(uint64(10), s.eventLog.from)
		s.JSONEq(`[{"type":"`+recipient.EventRemoved+`","blockNumber":12,"logIndex":3,"txHash":"0xfeed","position":7,"data":{"timestamp":1800000000}}]`,
			rec.Body.String())
	})

	s.Run("rejects a bad block", func() {
		rec := s.do(http.MethodGet, "/registries/"+registryHex+"/events?from=x", "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("disabled without an event log", func() {
		h := New(s.snapshots, s.readModel, slog.New(slog.NewTextHandler(io.Discard, nil)))
		req := httptest.NewRequest(http.MethodGet, "/registries/"+registryHex+"/events", nil)
		rec := httptest.NewRecorder()
		h.Router(nil).ServeHTTP(rec, req)
		s.Equal(http.StatusServiceUnavailable, rec.Code)
	})
}

func (s *HandlerSuite) TestSubmit() {
	s.Run("accepts a registration", func() {
		rec := s.do(http.MethodPost, "/registries/"+registryHex+"/recipients",
			`{"address":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed","metadata":"{\"name\":\"A\"}"}`)
		s.Require().Equal(http.StatusAccepted, rec.Code)
		s.JSONEq(`{"txHash":"`+common.HexToHash("0xabc").Hex()+`"}`, rec.Body.String())
		s.Equal(common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"), s.submitter.payout)
		s.Equal(`{"name":"A"}`, s.submitter.metadata)
	})

	s.Run("rejects a bad payout address", func() {
		rec := s.do(http.MethodPost, "/registries/"+registryHex+"/recipients", `{"address":"0x12"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("rejects malformed JSON", func() {
		rec := s.do(http.MethodPost, "/registries/"+registryHex+"/recipients", `{`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestSubmitDisabled() {
	h := New(s.snapshots, s.readModel, slog.New(slog.NewTextHandler(io.Discard, nil)))
	req := httptest.NewRequest(http.MethodPost, "/registries/"+registryHex+"/recipients", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Router(nil).ServeHTTP(rec, req)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}

func (s *HandlerSuite) TestProjections() {
	rec := s.do(http.MethodGet, "/projections", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"name":"recipients"`)
	s.Contains(rec.Body.String(), `"status":"running"`)
}

func (s *HandlerSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/healthz", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"postgres":"ok"}`, rec.Body.String())

	h := New(s.snapshots, s.readModel, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithHealthCheck("redis", pinger{err: errors.New("refused")}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()
	h.Router(nil).ServeHTTP(rw, req)
	s.Equal(http.StatusServiceUnavailable, rw.Code)
	s.JSONEq(`{"redis":"down"}`, rw.Body.String())
}

func (s *HandlerSuite) TestMetricsMounted() {
	rec := s.do(http.MethodGet, "/metrics", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("metrics", rec.Body.String())
}
