package notify_test

import (
	"sync"
	"testing"
	"time"

	"github.com/neelesh18904/CryptoProject/internal/model"
	"github.com/neelesh18904/CryptoProject/internal/notify"
)

func TestPresenter_LatestWins(t *testing.T) {
	p := notify.New(time.Minute)
	defer p.Close()

	p.Set(model.Success("first"))
	p.Set(model.Failure("second"))

	got := p.Current()
	if got.Message != "second" || got.Severity != model.SeverityError || !got.Open {
		t.Errorf("expected latest error notification, got %+v", got)
	}
}

func TestPresenter_AutoDismiss(t *testing.T) {
	p := notify.New(20 * time.Millisecond)
	defer p.Close()

	closed := make(chan struct{})
	var once sync.Once
	p.Subscribe(func(n model.Notification) {
		if !n.Open {
			once.Do(func() { close(closed) })
		}
	})

	p.Set(model.Success("hello"))

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("notification was not auto-dismissed")
	}
	if p.Current().Open {
		t.Error("slot should be closed after timeout")
	}
}

func TestPresenter_OlderTimerDoesNotCloseNewerAlert(t *testing.T) {
	p := notify.New(50 * time.Millisecond)
	defer p.Close()

	p.Set(model.Success("old"))
	time.Sleep(30 * time.Millisecond)
	p.Set(model.Success("new"))
	time.Sleep(30 * time.Millisecond)

	// 60ms after the first Set, 30ms after the second.
	if got := p.Current(); !got.Open || got.Message != "new" {
		t.Errorf("newer alert closed by older timer: %+v", got)
	}
}

func TestPresenter_DismissAndDefaultSeverity(t *testing.T) {
	p := notify.New(time.Minute)
	defer p.Close()

	p.Set(model.Notification{Open: true, Message: "no severity"})
	if got := p.Current().Severity; got != model.SeverityInfo {
		t.Errorf("expected default severity info, got %q", got)
	}

	var changes int
	p.Subscribe(func(model.Notification) { changes++ })

	p.Dismiss()
	p.Dismiss() // already closed: no second change
	if p.Current().Open {
		t.Error("slot should be closed")
	}
	if changes != 1 {
		t.Errorf("expected 1 change, got %d", changes)
	}
}

func TestPresenter_SetClosedIsDismiss(t *testing.T) {
	p := notify.New(time.Minute)
	defer p.Close()

	p.Set(model.Info("x"))
	p.Set(model.Notification{Open: false})
	if p.Current().Open {
		t.Error("Set with Open=false should dismiss")
	}
}
