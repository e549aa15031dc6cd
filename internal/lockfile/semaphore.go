package lockfile

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"
)

// Semaphore is a cross-process counting semaphore of N slots, each backed
// by its own lock file slot-0 … slot-{N-1}.
type Semaphore struct {
	dir     string
	slots   int
	timeout time.Duration
}

// NewSemaphore creates a semaphore named name with n slots under dir.
func NewSemaphore(dir, name string, n int) *Semaphore {
	sum := md5.Sum([]byte(name))
	return &Semaphore{
		dir:     filepath.Join(dir, hex.EncodeToString(sum[:])),
		slots:   n,
		timeout: DefaultSemaphoreTimeout,
	}
}

// TryAcquire claims the first free or stale slot. It returns the slot id
// and false when every slot is held by a live process.
func (s *Semaphore) TryAcquire() (int, bool, error) {
	for slot := 0; slot < s.slots; slot++ {
		ok, err := acquireFile(s.slotPath(slot), s.timeout)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return slot, true, nil
		}
	}
	return 0, false, nil
}

// Release frees the slot iff this process holds it.
func (s *Semaphore) Release(slot int) error {
	if slot < 0 || slot >= s.slots {
		return fmt.Errorf("slot %d out of range [0,%d)", slot, s.slots)
	}
	return releaseFile(s.slotPath(slot))
}

// Slots returns the semaphore capacity.
func (s *Semaphore) Slots() int {
	return s.slots
}

func (s *Semaphore) slotPath(slot int) string {
	return filepath.Join(s.dir, fmt.Sprintf("slot-%d.lock", slot))
}
