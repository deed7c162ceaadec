package progress

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(0, zerolog.Nop())
}

func twoFiles() []entity.FileInfo {
	return []entity.FileInfo{{Filename: "a.xml", Size: 10}, {Filename: "b.xml", Size: 20}}
}

// collector guarda las actualizaciones recibidas en orden.
type collector struct {
	mu      sync.Mutex
	updates []*entity.ProcessingSession
}

func (c *collector) OnUpdate(s *entity.ProcessingSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, s)
	return nil
}

func (c *collector) snapshot() []*entity.ProcessingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*entity.ProcessingSession, len(c.updates))
	copy(out, c.updates)
	return out
}

func TestTracker_CreateSession(t *testing.T) {
	tr := newTestTracker(t)

	s, err := tr.CreateSession("s1", twoFiles())
	require.NoError(t, err)
	assert.Equal(t, entity.SessionInitializing, s.Status)
	assert.Equal(t, 0, s.OverallProgress)
	require.Len(t, s.Files, 2)
	assert.Equal(t, entity.FilePending, s.Files[0].Status)
	assert.Equal(t, int64(20), s.Files[1].FileSize)

	_, err = tr.CreateSession("s1", twoFiles())
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = tr.CreateSession("s2", []entity.FileInfo{{Filename: "x.xml"}, {Filename: "x.xml"}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = tr.CreateSession("", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTracker_UpdateFile_ProgressMonotonicAndMean(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.CreateSession("s1", twoFiles())
	require.NoError(t, err)

	require.NoError(t, tr.UpdateFile("s1", "a.xml", entity.FileProcessing, entity.StageSave, 50, "[Save] envío"))
	s, err := tr.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, entity.SessionProcessing, s.Status)
	assert.Equal(t, 50, s.Files[0].Progress)
	assert.Equal(t, 25, s.OverallProgress)

	// un porcentaje menor no hace retroceder el archivo
	require.NoError(t, tr.UpdateFile("s1", "a.xml", entity.FileProcessing, entity.StageValidate, 10, ""))
	s, _ = tr.Get("s1")
	assert.Equal(t, 50, s.Files[0].Progress)
	assert.Equal(t, entity.StageValidate, s.Files[0].Stage)

	// fuera de rango se recorta
	require.NoError(t, tr.UpdateFile("s1", "b.xml", entity.FileProcessing, entity.StageSign, 250, ""))
	s, _ = tr.Get("s1")
	assert.Equal(t, 100, s.Files[1].Progress)
	assert.Equal(t, 75, s.OverallProgress)
}

func TestTracker_UpdateFile_TerminalStates(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.CreateSession("s1", twoFiles())
	require.NoError(t, err)

	require.NoError(t, tr.UpdateFile("s1", "a.xml", entity.FileFailed, entity.StageSave, 30, "[Save] rechazo"))
	s, _ := tr.Get("s1")
	assert.Equal(t, 100, s.Files[0].Progress)
	assert.Equal(t, "[Save] rechazo", s.Files[0].ErrorMessage)

	// un archivo terminal ya no cambia
	require.NoError(t, tr.UpdateFile("s1", "a.xml", entity.FileProcessing, entity.StageRender, 80, "otro"))
	s, _ = tr.Get("s1")
	assert.Equal(t, entity.FileFailed, s.Files[0].Status)
	assert.Equal(t, entity.StageSave, s.Files[0].Stage)

	err = tr.UpdateFile("s1", "nope.xml", entity.FileProcessing, entity.StageSign, 5, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = tr.UpdateFile("missing", "a.xml", entity.FileProcessing, entity.StageSign, 5, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTracker_CompleteSession_Immutable(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.CreateSession("s1", twoFiles())
	require.NoError(t, err)

	require.NoError(t, tr.SetRegistrationID("s1", "a.xml", "TTN-1"))
	require.NoError(t, tr.SetPackageURL("s1", "/api/workflow/download/s1"))
	require.NoError(t, tr.CompleteSession("s1", false, "0 archivo(s) registrado(s)"))

	s, err := tr.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, entity.SessionFailed, s.Status)
	assert.False(t, s.Success)
	assert.Equal(t, 100, s.OverallProgress)
	assert.Equal(t, "0 archivo(s) registrado(s)", s.ErrorMessage)
	assert.Equal(t, "/api/workflow/download/s1", s.ZipDownloadURL)
	assert.Equal(t, "TTN-1", s.Files[0].TTNInvoiceID)
	last := s.LastUpdated

	require.NoError(t, tr.UpdateSession("s1", entity.SessionProcessing, entity.StageSign, 10, "tarde"))
	require.NoError(t, tr.UpdateFile("s1", "b.xml", entity.FileCompleted, entity.StageRender, 100, ""))
	require.NoError(t, tr.CompleteSession("s1", true, "otra vez"))
	require.NoError(t, tr.SetPackageURL("s1", "/otra"))

	s, _ = tr.Get("s1")
	assert.Equal(t, entity.SessionFailed, s.Status)
	assert.Equal(t, entity.FilePending, s.Files[1].Status)
	assert.Equal(t, "/api/workflow/download/s1", s.ZipDownloadURL)
	assert.Equal(t, last, s.LastUpdated)
}

func TestTracker_UpdateSession(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.CreateSession("s1", nil)
	require.NoError(t, err)

	require.NoError(t, tr.UpdateSession("s1", entity.SessionProcessing, entity.StagePackage, 90, "empaquetando"))
	require.NoError(t, tr.UpdateSession("s1", entity.SessionProcessing, entity.StagePackage, 40, ""))
	s, _ := tr.Get("s1")
	assert.Equal(t, 90, s.OverallProgress)
	assert.Equal(t, "empaquetando", s.Message)

	// un estado terminal solo se alcanza con CompleteSession
	require.NoError(t, tr.UpdateSession("s1", entity.SessionCompleted, entity.StagePackage, -1, ""))
	s, _ = tr.Get("s1")
	assert.Equal(t, entity.SessionProcessing, s.Status)
}

func TestTracker_GetReturnsCopy(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.CreateSession("s1", twoFiles())
	require.NoError(t, err)

	s, _ := tr.Get("s1")
	s.Files[0].Progress = 99
	s.Status = entity.SessionCompleted

	again, _ := tr.Get("s1")
	assert.Equal(t, 0, again.Files[0].Progress)
	assert.Equal(t, entity.SessionInitializing, again.Status)
}

func TestTracker_ListRemoveSweep(t *testing.T) {
	tr := newTestTracker(t)
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	now := base
	tr.now = func() time.Time { return now }

	_, err := tr.CreateSession("old", nil)
	require.NoError(t, err)
	now = base.Add(20 * time.Minute)
	_, err = tr.CreateSession("new", nil)
	require.NoError(t, err)

	list := tr.List()
	require.Len(t, list, 2)
	assert.Equal(t, "old", list[0].SessionID)
	assert.Equal(t, "new", list[1].SessionID)

	now = base.Add(35 * time.Minute)
	assert.Equal(t, 1, tr.Sweep(30*time.Minute))
	_, err = tr.Get("old")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = tr.Get("new")
	assert.NoError(t, err)

	assert.True(t, tr.Remove("new"))
	assert.False(t, tr.Remove("new"))
	assert.Empty(t, tr.List())
}

func TestTracker_ListenerReceivesOrderedUpdates(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.CreateSession("s1", twoFiles())
	require.NoError(t, err)

	c := &collector{}
	remove, err := tr.AddListener("s1", c)
	require.NoError(t, err)
	defer remove()

	for _, p := range []int{5, 25, 30, 50} {
		require.NoError(t, tr.UpdateFile("s1", "a.xml", entity.FileProcessing, entity.StageSign, p, fmt.Sprintf("p%d", p)))
	}

	require.Eventually(t, func() bool { return len(c.snapshot()) == 4 }, time.Second, 5*time.Millisecond)
	got := c.snapshot()
	for i, p := range []int{5, 25, 30, 50} {
		assert.Equal(t, p, got[i].Files[0].Progress)
	}
}

func TestTracker_ListenersReceiveIndependentCopies(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.CreateSession("s1", twoFiles())
	require.NoError(t, err)

	mutated := make(chan struct{})
	_, err = tr.AddListener("s1", ListenerFunc(func(s *entity.ProcessingSession) error {
		s.Files[0].Progress = 999
		s.Files[0].Status = entity.FileFailed
		s.SessionID = "otra"
		close(mutated)
		return nil
	}))
	require.NoError(t, err)
	c := &collector{}
	_, err = tr.AddListener("s1", ListenerFunc(func(s *entity.ProcessingSession) error {
		<-mutated
		return c.OnUpdate(s)
	}))
	require.NoError(t, err)

	require.NoError(t, tr.UpdateFile("s1", "a.xml", entity.FileProcessing, entity.StageSign, 25, ""))

	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	got := c.snapshot()[0]
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, 25, got.Files[0].Progress)
	assert.Equal(t, entity.FileProcessing, got.Files[0].Status)

	s, err := tr.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, 25, s.Files[0].Progress)
}

func TestTracker_FailingListenerDoesNotAffectOthers(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.CreateSession("s1", twoFiles())
	require.NoError(t, err)

	_, err = tr.AddListener("s1", ListenerFunc(func(*entity.ProcessingSession) error {
		return errors.New("cliente desconectado")
	}))
	require.NoError(t, err)
	_, err = tr.AddListener("s1", ListenerFunc(func(*entity.ProcessingSession) error {
		panic("boom")
	}))
	require.NoError(t, err)
	c := &collector{}
	_, err = tr.AddListener("s1", c)
	require.NoError(t, err)

	require.NoError(t, tr.UpdateFile("s1", "a.xml", entity.FileProcessing, entity.StageSign, 5, ""))
	require.NoError(t, tr.UpdateFile("s1", "a.xml", entity.FileProcessing, entity.StageSign, 25, ""))

	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	s, err := tr.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, 25, s.Files[0].Progress)
}

func TestTracker_SlowListenerDropsWhenQueueFull(t *testing.T) {
	tr := NewTracker(1, zerolog.Nop())
	_, err := tr.CreateSession("s1", twoFiles())
	require.NoError(t, err)

	release := make(chan struct{})
	var mu sync.Mutex
	received := 0
	_, err = tr.AddListener("s1", ListenerFunc(func(*entity.ProcessingSession) error {
		<-release
		mu.Lock()
		received++
		mu.Unlock()
		return nil
	}))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for p := 1; p <= 20; p++ {
			_ = tr.UpdateFile("s1", "a.xml", entity.FileProcessing, entity.StageSign, p, "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("las actualizaciones quedaron bloqueadas por un suscriptor lento")
	}
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received >= 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Less(t, received, 20)
	mu.Unlock()
}

func TestTracker_RemoveListener(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.CreateSession("s1", twoFiles())
	require.NoError(t, err)

	c := &collector{}
	remove, err := tr.AddListener("s1", c)
	require.NoError(t, err)
	require.NoError(t, tr.UpdateFile("s1", "a.xml", entity.FileProcessing, entity.StageSign, 5, ""))
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	remove()
	remove()
	require.NoError(t, tr.UpdateFile("s1", "a.xml", entity.FileProcessing, entity.StageSign, 25, ""))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, c.snapshot(), 1)

	_, err = tr.AddListener("missing", c)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	tr := newTestTracker(t)
	files := make([]entity.FileInfo, 10)
	for i := range files {
		files[i] = entity.FileInfo{Filename: fmt.Sprintf("f%02d.xml", i)}
	}
	_, err := tr.CreateSession("s1", files)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, f := range files {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for p := 0; p <= 95; p += 5 {
				_ = tr.UpdateFile("s1", name, entity.FileProcessing, entity.StageSign, p, "")
				_, _ = tr.Get("s1")
			}
			_ = tr.UpdateFile("s1", name, entity.FileCompleted, entity.StageRender, 100, "")
		}(f.Filename)
	}
	wg.Wait()

	s, err := tr.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, 100, s.OverallProgress)
	for _, f := range s.Files {
		assert.Equal(t, entity.FileCompleted, f.Status)
	}
}
