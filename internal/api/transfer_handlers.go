package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
	"github.com/rflorenc/towerxfer/internal/transfer"
)

// selectionRequest names what a receive or empty job works on.
type selectionRequest struct {
	All    bool                `json:"all"`
	Assets map[string][]string `json:"assets"`
}

func (req selectionRequest) selection() (transfer.Selection, error) {
	names := make(map[transfer.AssetType][]string, len(req.Assets))
	for typ, list := range req.Assets {
		t, err := transfer.ParseAssetType(typ)
		if err != nil {
			return nil, err
		}
		names[t] = list
	}
	return transfer.NewSelection(req.All, names)
}

type sendRequest struct {
	Document         json.RawMessage `json:"document"`
	Prevent          []string        `json:"prevent"`
	Exclude          []string        `json:"exclude"`
	SecretManagement string          `json:"secret_management"`
}

type emptyRequest struct {
	selectionRequest
	Confirm string `json:"confirm"`
}

// jobRun is the body of one transfer job.
type jobRun func(ctx context.Context, job *models.Job, reg transfer.Registry, rep *transfer.Reporter) (*transfer.Recap, error)

// startJob runs fn in its own goroutine with a fresh registry, schema cache
// and reporter. The job's log lines are the reporter's zerolog output.
func (s *Server) startJob(jobType string, conn *models.Connection, fn jobRun) *models.Job {
	job := s.Jobs.Create(jobType, conn.ID)
	ctx, cancel := context.WithCancel(context.Background())
	job.SetCancel(cancel)

	// the stored connection is shared with other requests
	target := *conn
	log := zerolog.New(job).With().Timestamp().Str("job", job.ID).Logger()

	go func() {
		defer cancel()
		log.Info().Str("connection", target.Name).Str("url", target.BaseURL()).Msg(jobType + " started")
		reg := platform.OpenRegistry(&target, log)
		rep := transfer.NewReporter(log, jobType)
		if s.Metrics != nil {
			rep.WithMetrics(s.Metrics)
		}
		recap, err := fn(ctx, job, reg, rep)
		if err != nil {
			log.Error().Err(err).Msg(jobType + " failed")
			job.Fail(err.Error())
			return
		}
		job.Complete(recap.String())
	}()
	return job
}

func (s *Server) connection(w http.ResponseWriter, r *http.Request) *models.Connection {
	conn := s.Connections.Get(chi.URLParam(r, "id"))
	if conn == nil {
		writeError(w, http.StatusNotFound, "connection not found")
	}
	return conn
}

// RunReceive exports a selection; the document is served by GetJobDocument.
func (s *Server) RunReceive(w http.ResponseWriter, r *http.Request) {
	conn := s.connection(w, r)
	if conn == nil {
		return
	}
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	sel, err := req.selection()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := s.startJob("receive", conn, func(ctx context.Context, job *models.Job, reg transfer.Registry, rep *transfer.Reporter) (*transfer.Recap, error) {
		assets, err := transfer.NewExporter(reg, rep).Export(sel)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := transfer.WriteDocument(&buf, assets, transfer.FormatJSON); err != nil {
			return nil, err
		}
		job.SetResult(buf.Bytes())
		return rep.Recap(), nil
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// RunSend imports a document. Secrets can only be defaulted or randomized
// here since nobody is at a terminal to answer a prompt.
func (s *Server) RunSend(w http.ResponseWriter, r *http.Request) {
	conn := s.connection(w, r)
	if conn == nil {
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	assets, err := transfer.ParseDocument(req.Document)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(assets) == 0 {
		writeError(w, http.StatusBadRequest, "document holds no assets")
		return
	}
	opts, err := s.importOptions(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := s.startJob("send", conn, func(ctx context.Context, _ *models.Job, reg transfer.Registry, rep *transfer.Reporter) (*transfer.Recap, error) {
		return transfer.NewImporter(reg, rep, opts).Send(ctx, assets)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) importOptions(req sendRequest) (transfer.ImportOptions, error) {
	opts := transfer.ImportOptions{ProjectUpdateTimeout: s.ProjectUpdateTimeout}
	var err error
	if opts.Prevent, err = transfer.ParseAssetTypes(req.Prevent); err != nil {
		return opts, fmt.Errorf("prevent: %w", err)
	}
	if opts.Exclude, err = transfer.ParseAssetTypes(req.Exclude); err != nil {
		return opts, fmt.Errorf("exclude: %w", err)
	}
	if opts.Secrets, err = transfer.ParseSecretPolicy(req.SecretManagement); err != nil {
		return opts, err
	}
	if opts.Secrets == transfer.SecretsPrompt {
		return opts, fmt.Errorf("secret_management %q is not available over the API", transfer.SecretsPrompt)
	}
	return opts, nil
}

// RunEmpty deletes a selection. The request must carry confirm: "YES".
func (s *Server) RunEmpty(w http.ResponseWriter, r *http.Request) {
	conn := s.connection(w, r)
	if conn == nil {
		return
	}
	var req emptyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Confirm != transfer.ConfirmationToken {
		writeError(w, http.StatusBadRequest, transfer.ErrNotConfirmed.Error()+`: set confirm to "`+transfer.ConfirmationToken+`"`)
		return
	}
	sel, err := req.selection()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := s.startJob("empty", conn, func(ctx context.Context, _ *models.Job, reg transfer.Registry, rep *transfer.Reporter) (*transfer.Recap, error) {
		return transfer.NewCleaner(reg, rep).Clean(sel, req.Confirm)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}
