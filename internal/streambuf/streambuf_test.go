package streambuf

import (
	"sync"
	"testing"
	"time"
)

func TestBuffer_ConcurrentPushPull(t *testing.T) {
	// Enough blocks that the consumer has to wait on the producer several times.
	const totalSamples = 200000
	const blockSize = 256

	b := New[int16]()

	sourceData := make([]int16, totalSamples)
	for i := 0; i < totalSamples; i++ {
		sourceData[i] = int16(i)
	}

	destData := make([]int16, 0, totalSamples)
	var wg sync.WaitGroup
	wg.Add(2)

	// --- Producer Goroutine ---
	go func() {
		defer wg.Done()
		for written := 0; written < totalSamples; written += blockSize {
			end := min(written+blockSize, totalSamples)
			b.Push(sourceData[written:end])
		}
		b.PushEnd()
	}()

	// --- Consumer Goroutine ---
	go func() {
		defer wg.Done()
		for {
			block := b.Pull()
			if block == nil {
				return
			}
			destData = append(destData, block...)
		}
	}()

	wg.Wait()

	if len(destData) != totalSamples {
		t.Fatalf("Data loss detected: expected %d samples, but got %d", totalSamples, len(destData))
	}
	for i := 0; i < totalSamples; i++ {
		if sourceData[i] != destData[i] {
			t.Fatalf("Data corruption at index %d: expected %d, but got %d", i, sourceData[i], destData[i])
		}
	}
	if !b.EndReached() {
		t.Errorf("Expected EndReached after draining the buffer")
	}
}

func TestBuffer_FIFOThenTerminalPull(t *testing.T) {
	b := New[float32]()
	blocks := [][]float32{{1}, {2, 3}, {4, 5, 6}}
	for _, blk := range blocks {
		b.Push(blk)
	}
	b.PushEnd()

	if got := b.QueuedSamples(); got != 6 {
		t.Fatalf("Expected 6 queued samples, got %d", got)
	}
	if b.EndReached() {
		t.Fatalf("EndReached must be false while blocks remain")
	}

	for i, want := range blocks {
		got := b.Pull()
		if len(got) != len(want) {
			t.Fatalf("Block %d: expected length %d, got %d", i, len(want), len(got))
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("Block %d sample %d: expected %v, got %v", i, j, want[j], got[j])
			}
		}
	}

	if got := b.Pull(); got != nil {
		t.Fatalf("Expected nil terminal pull, got %v", got)
	}
	// Subsequent pulls keep returning immediately.
	if got := b.Pull(); got != nil {
		t.Fatalf("Expected nil on repeated terminal pull, got %v", got)
	}
	if !b.EndReached() {
		t.Errorf("Expected EndReached after the terminal pull")
	}
}

func TestBuffer_EmptyPushIgnored(t *testing.T) {
	b := New[int]()
	b.Push(nil)
	b.Push([]int{})
	if got := b.QueuedSamples(); got != 0 {
		t.Fatalf("Expected empty pushes to be ignored, got %d queued", got)
	}
	b.PushEnd()
	if got := b.Pull(); got != nil {
		t.Fatalf("Expected nil pull, got %v", got)
	}
}

func TestBuffer_PushEndIdempotent(t *testing.T) {
	b := New[int]()
	b.Push([]int{1})
	b.PushEnd()
	b.PushEnd()
	if got := b.Pull(); len(got) != 1 {
		t.Fatalf("Expected the queued block to survive a repeated PushEnd, got %v", got)
	}
	if !b.EndReached() {
		t.Errorf("Expected EndReached")
	}
}

func TestBuffer_PushAfterEndPanics(t *testing.T) {
	b := New[int]()
	b.PushEnd()
	defer func() {
		if recover() == nil {
			t.Errorf("Expected a panic when pushing after PushEnd")
		}
	}()
	b.Push([]int{1})
}

func TestBuffer_WaitForFillUnblocksAtThreshold(t *testing.T) {
	b := New[int]()
	done := make(chan int, 1)

	go func() {
		b.WaitForFill(10)
		done <- b.QueuedSamples()
	}()

	for i := 0; i < 9; i++ {
		b.Push([]int{i})
		select {
		case <-done:
			t.Fatalf("WaitForFill returned with only %d samples queued", i+1)
		case <-time.After(5 * time.Millisecond):
		}
	}

	b.Push([]int{9})
	select {
	case got := <-done:
		if got < 10 {
			t.Errorf("WaitForFill returned with %d queued samples, want >= 10", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("WaitForFill did not return once the threshold was reached")
	}

	// Nothing was consumed.
	if got := b.QueuedSamples(); got != 10 {
		t.Errorf("Expected 10 queued samples, got %d", got)
	}
}

func TestBuffer_WaitForFillReturnsAtEnd(t *testing.T) {
	b := New[int]()
	b.Push([]int{1, 2})
	b.PushEnd()

	done := make(chan struct{})
	go func() {
		b.WaitForFill(1000)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("WaitForFill blocked although the end of the stream was set")
	}
}

func TestBuffer_PushEndWakesBlockedPull(t *testing.T) {
	b := New[int]()
	done := make(chan []int, 1)
	go func() {
		done <- b.Pull()
	}()

	time.Sleep(10 * time.Millisecond)
	b.PushEnd()

	select {
	case got := <-done:
		if got != nil {
			t.Errorf("Expected nil pull after PushEnd, got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Pull was not woken by PushEnd")
	}
}
