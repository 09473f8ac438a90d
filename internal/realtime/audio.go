package realtime

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	sampleRate   = 48000
	frameSamples = 960 // 20ms at 48kHz
	frameTime    = 20 * time.Millisecond
	maxFrameSize = 5760 // 120ms, the largest Opus frame
)

type sampleWriter interface {
	WriteSample(s media.Sample) error
}

type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// OpusPacedWriter encodes 48kHz PCM16LE mono into Opus frames and writes
// them to a track at real-time pace.
type OpusPacedWriter struct {
	enc          frameEncoder
	track        sampleWriter
	pcmBuf       []int16
	frameSamples int
	frames       chan []byte
	stopCh       chan struct{}
	stopped      bool
	mu           sync.Mutex
}

// NewOpusPacedWriter starts a paced writer with 20ms voice frames.
func NewOpusPacedWriter(track sampleWriter) (*OpusPacedWriter, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := &OpusPacedWriter{
		enc:          enc,
		track:        track,
		frameSamples: frameSamples,
		frames:       make(chan []byte, 512),
		stopCh:       make(chan struct{}),
	}
	go w.pacer()
	return w, nil
}

// WritePCM buffers microphone PCM and queues every complete frame.
func (w *OpusPacedWriter) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	need := len(pcmBytes) / 2
	for i := 0; i < need; i++ {
		w.pcmBuf = append(w.pcmBuf, int16(binary.LittleEndian.Uint16(pcmBytes[2*i:])))
	}

	opusBuf := make([]byte, 4000)
	for len(w.pcmBuf) >= w.frameSamples {
		n, _ := w.enc.Encode(w.pcmBuf[:w.frameSamples], opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			w.pushFrame(pkt)
		}
		copy(w.pcmBuf, w.pcmBuf[w.frameSamples:])
		w.pcmBuf = w.pcmBuf[:len(w.pcmBuf)-w.frameSamples]
	}
}

// Close stops the pacer and drops anything queued.
func (w *OpusPacedWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *OpusPacedWriter) pacer() {
	ticker := time.NewTicker(frameTime)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_ = w.track.WriteSample(media.Sample{Data: frame, Duration: frameTime})
			default:
			}
		}
	}
}

// pushFrame drops the oldest queued frame when the queue is full; live
// microphone audio must never stall the caller.
func (w *OpusPacedWriter) pushFrame(pkt []byte) {
	for {
		select {
		case <-w.stopCh:
			return
		case w.frames <- pkt:
			return
		default:
			select {
			case <-w.frames:
			default:
			}
		}
	}
}

// Reset clears queued frames and buffered PCM.
func (w *OpusPacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		select {
		case <-w.frames:
		default:
			w.pcmBuf = w.pcmBuf[:0]
			return
		}
	}
}

type packetReader interface {
	ReadPayload() ([]byte, error)
}

type frameDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// decodeLoop turns Opus packets from the agent into PCM16LE for the
// speaker until the reader fails.
func decodeLoop(id string, r packetReader, dec frameDecoder, spk Speaker) {
	samples := make([]int16, maxFrameSize)
	for {
		payload, err := r.ReadPayload()
		if err != nil {
			logf(id, "agent audio read ended: %v", err)
			return
		}
		if len(payload) == 0 {
			continue
		}
		n, err := dec.Decode(payload, samples)
		if err != nil {
			logf(id, "Opus decode error: %v", err)
			continue
		}
		out := make([]byte, n*2)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(samples[i]))
		}
		spk.WritePCM(out)
	}
}
