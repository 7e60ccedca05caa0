package delivery

import (
	"context"
	"strconv"
	"time"

	"github.com/yangwenmai/fieldbox/internal/model"
	"github.com/yangwenmai/fieldbox/internal/transport"
)

// Action tag of the upload step.
const ActionUpload = "upload_foto"

// timestampLayout matches an ISO-8601 UTC timestamp with milliseconds.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ---------------------------------------------------------------------------
// Step 1: Upload
// ---------------------------------------------------------------------------

// UploadStep sends the photo with the non-binary metadata.
type UploadStep struct {
	Poster Poster
}

// Run posts the upload request and returns the stored-photo reference.
func (u *UploadStep) Run(ctx context.Context, endpoint string, s model.Submission, lot Lot) (model.RemoteArtifact, error) {
	resp, err := u.Poster.Post(ctx, endpoint, uploadFields(s, lot))
	if err != nil {
		return model.RemoteArtifact{}, err
	}
	if !resp.OK() {
		return model.RemoteArtifact{}, &transport.ProtocolError{Message: messageOr(resp, "upload failed")}
	}
	// A missing reference is tolerated; the row is written with empty values.
	return model.RemoteArtifact{URL: resp.PhotoURL, ID: resp.PhotoID}, nil
}

func uploadFields(s model.Submission, lot Lot) transport.Fields {
	return transport.Fields{
		"action":          ActionUpload,
		"usuario":         s.User,
		"lote":            lot.Name,
		"lote_cod":        lot.Code,
		"cod_atividade":   s.ActivityCode,
		"atividade":       s.Activity,
		"app_version":     s.AppVersion,
		"submission_uuid": s.SubmissionID,
		"lat":             formatCoord(s.Lat),
		"long":            formatCoord(s.Long),
		"accuracy_m":      formatCoord(s.AccuracyM),
		"foto_base64":     s.PhotoBase64,
	}
}

// ---------------------------------------------------------------------------
// Step 2: Write
// ---------------------------------------------------------------------------

// WriteStep writes the record row referencing the uploaded photo.
type WriteStep struct {
	Poster Poster
	Action string
	Now    func() time.Time
}

// Run posts the record-write request.
func (w *WriteStep) Run(ctx context.Context, endpoint string, s model.Submission, lot Lot, art model.RemoteArtifact) error {
	resp, err := w.Poster.Post(ctx, endpoint, w.fields(s, lot, art))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &transport.ProtocolError{Message: messageOr(resp, "record write failed")}
	}
	return nil
}

func (w *WriteStep) fields(s model.Submission, lot Lot, art model.RemoteArtifact) transport.Fields {
	fakeGPS := s.FakeGPS.Normalized()
	return transport.Fields{
		"action":          w.Action,
		"data_hora":       w.Now().UTC().Format(timestampLayout),
		"app_version":     s.AppVersion,
		"usuario":         s.User,
		"cod_atividade":   s.ActivityCode,
		"atividade":       s.Activity,
		"foto":            art.URL,
		"foto_id":         art.ID,
		"lat":             formatCoord(s.Lat),
		"long":            formatCoord(s.Long),
		"obs":             s.Notes,
		"chuva":           s.Rain.Normalized(),
		"fake_gps":        fakeGPS,
		"gps_flag":        fakeGPS,
		"lote":            lot.Name,
		"lote_cod":        lot.Code,
		"submission_uuid": s.SubmissionID,
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func messageOr(resp *transport.Response, fallback string) string {
	if resp != nil && resp.Message != "" {
		return resp.Message
	}
	return fallback
}
