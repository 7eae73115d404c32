package handlers

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"raffle/internal/models"
	"raffle/internal/schedule"
	"raffle/internal/services"
	"raffle/internal/storage"
)

func newTestRouter(t *testing.T) (*gin.Engine, *schedule.Manual) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sched := schedule.NewManual()
	history := services.NewHistoryStore(storage.NewMemory(), "", 0)
	service := services.NewRaffleService(history, services.Options{Scheduler: sched})
	t.Cleanup(service.Close)

	r := gin.New()
	NewHTTPHandler(service, 1<<20).RegisterRoutes(r)
	return r, sched
}

func do(t *testing.T, r http.Handler, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func upload(t *testing.T, r http.Handler, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return do(t, r, http.MethodPost, "/api/upload", body.Bytes(), mw.FormDataContentType())
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) services.State {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var st services.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func TestHTTPHandler_FullDraw(t *testing.T) {
	r, sched := newTestRouter(t)

	st := decodeState(t, upload(t, r, "lista.csv", "DNI,Nombre\n111,Ana\n222,Beto\n333,Cata\n"))
	assert.Equal(t, services.StepPreview, st.Step)
	assert.Len(t, st.Participants, 3)

	st = decodeState(t, do(t, r, http.MethodPost, "/api/preview/confirm", nil, ""))
	assert.Equal(t, services.StepConfigure, st.Step)

	cfg := `{"totalWinners":10,"highlightTopWinners":true,"topWinnersCount":1}`
	st = decodeState(t, do(t, r, http.MethodPut, "/api/config", []byte(cfg), "application/json"))
	assert.Equal(t, 3, st.Config.TotalWinners)
	assert.Equal(t, 1, st.Config.TopWinnersCount)

	st = decodeState(t, do(t, r, http.MethodPost, "/api/draw", nil, ""))
	assert.Equal(t, services.StepReveal, st.Step)
	assert.Equal(t, services.PhaseSpinning, st.Phase)

	w := do(t, r, http.MethodPost, "/api/reveal/next", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	sched.RunAll(10000)
	st = decodeState(t, do(t, r, http.MethodGet, "/api/state", nil, ""))
	assert.Equal(t, services.PhaseRevealed, st.Phase)
	require.NotNil(t, st.Current)

	st = decodeState(t, do(t, r, http.MethodPost, "/api/reveal/next", nil, ""))
	assert.Equal(t, services.StepResults, st.Step)
	assert.Len(t, st.Winners, 3)
	require.NotEmpty(t, st.LastDrawID)

	t.Run("export results as workbook", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/api/results/export", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Disposition"), "ganadores_sorteo_"+st.LastDrawID+".xlsx")

		f, err := excelize.OpenReader(w.Body)
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows("Ganadores")
		require.NoError(t, err)
		assert.Len(t, rows, 4)
		assert.Equal(t, "Principal #1", rows[1][3])
	})

	t.Run("export history entry as csv", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/api/history/"+st.LastDrawID+"/export?format=csv", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
		assert.Len(t, lines, 4)
		assert.Equal(t, "\xef\xbb\xbfNombre,DNI,Posición,Premio", lines[0])
	})

	t.Run("unknown export format", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/api/results/export?format=pdf", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown history entry", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/api/history/nope/export", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("history view and clear", func(t *testing.T) {
		st := decodeState(t, do(t, r, http.MethodPost, "/api/history", nil, ""))
		assert.Equal(t, services.StepHistory, st.Step)
		assert.Len(t, st.History, 1)

		st = decodeState(t, do(t, r, http.MethodDelete, "/api/history", nil, ""))
		assert.Empty(t, st.History)

		st = decodeState(t, do(t, r, http.MethodPost, "/api/history/back", nil, ""))
		assert.Equal(t, services.StepResults, st.Step)
	})

	t.Run("new draw", func(t *testing.T) {
		st := decodeState(t, do(t, r, http.MethodPost, "/api/reset", nil, ""))
		assert.Equal(t, services.StepUpload, st.Step)
		assert.Empty(t, st.Participants)

		w := do(t, r, http.MethodGet, "/api/results/export", nil, "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHTTPHandler_UploadErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	w := upload(t, r, "lista.txt", "Nombre,DNI\nAna,111\n")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported file type")

	w = upload(t, r, "lista.csv", "Nombre\nAna\n")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	st := decodeState(t, do(t, r, http.MethodGet, "/api/state", nil, ""))
	assert.Equal(t, services.StepUpload, st.Step)
	assert.NotEmpty(t, st.Notice)

	st = decodeState(t, do(t, r, http.MethodDelete, "/api/notice", nil, ""))
	assert.Empty(t, st.Notice)

	w = do(t, r, http.MethodPost, "/api/upload", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPHandler_BadConfig(t *testing.T) {
	r, _ := newTestRouter(t)
	decodeState(t, upload(t, r, "lista.csv", "Nombre,DNI\nAna,111\n"))
	decodeState(t, do(t, r, http.MethodPost, "/api/preview/confirm", nil, ""))

	w := do(t, r, http.MethodPut, "/api/config", []byte("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPHandler_Health(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

// eventNames reads an event stream and yields the name of every event.
// The channel closes when the stream ends.
func eventNames(body io.Reader) <-chan string {
	names := make(chan string, 256)
	go func() {
		defer close(names)
		sc := bufio.NewScanner(body)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event:"); ok {
				names <- name
			}
		}
	}()
	return names
}

func nextEvent(t *testing.T, names <-chan string) (string, bool) {
	t.Helper()
	select {
	case name, ok := <-names:
		return name, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return "", false
	}
}

func TestHTTPHandler_StreamEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ms := time.Millisecond
	sched := schedule.NewManual()
	history := services.NewHistoryStore(storage.NewMemory(), "", 0)
	service := services.NewRaffleService(history, services.Options{
		Scheduler: sched,
		Spin: services.SpinSettings{
			Duration:      100 * ms,
			BaseInterval:  50 * ms,
			FlashCount:    1,
			FlashInterval: 10 * ms,
			Hold:          10 * ms,
		},
	})
	t.Cleanup(service.Close)

	r := gin.New()
	NewHTTPHandler(service, 1<<20).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	names := eventNames(resp.Body)

	// The snapshot arrives while the raffle is idle.
	name, ok := nextEvent(t, names)
	require.True(t, ok)
	assert.Equal(t, "state", name)

	_, err = service.Upload("lista.csv", strings.NewReader("Nombre,DNI\nAna,111\nBeto,222\n"))
	require.NoError(t, err)
	require.NoError(t, service.ConfirmPreview())
	_, err = service.UpdateConfig(models.DrawConfig{TotalWinners: 2, HighlightTopWinners: true, TopWinnersCount: 1})
	require.NoError(t, err)
	require.NoError(t, service.StartDraw(context.Background()))
	sched.RunAll(1000)

	seen := map[string]int{}
	for {
		name, ok := nextEvent(t, names)
		require.True(t, ok, "stream ended before the reveal")
		seen[name]++
		if name == "revealed" {
			break
		}
	}
	assert.Equal(t, 3, seen["step"])
	assert.GreaterOrEqual(t, seen["frame"], 3)

	service.Close()
	for {
		if _, ok := nextEvent(t, names); !ok {
			break
		}
	}
}
