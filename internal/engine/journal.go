package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"asyncedit/internal/model"
	"asyncedit/internal/storage"
)

type journalFlusher struct {
	active_segment *os.File
	seq_number     uint64
	buffer         bytes.Buffer
	maxBufferBytes int
}

type journalMsg struct {
	mut      model.Mutation
	buffered chan error
}

type JournalCfg struct {
	Path                string
	EnqueueTimeout      time.Duration
	FlushInterval       time.Duration
	MaxEnqueuedMutation int
	BufferBytes         int
	Logger              *slog.Logger
}

/*
Journal records every applied block change. A single writer goroutine owns the segment:
  - Ordering: the channel preserves append order and the writer assigns sequence numbers.
  - Backpressure: the channel is bounded and Append gives up after EnqueueTimeout.
  - Durability handshake: Append returns once the record is in the write buffer.
  - Flushing: on buffer overflow, on the FlushInterval ticker and on shutdown.
*/
type Journal struct {
	flusher journalFlusher
	writes  chan journalMsg
	cfg     JournalCfg
	logger  *slog.Logger
	flushT  *time.Ticker
	stopped chan struct{}
}

var errJournalTimeout = errors.New("timeout waiting for mutation to enter journal")

const (
	payloadLenBytes = 4
	checksumBytes   = 4
	seqNumBytes     = 8
	opTypeBytes     = 1
	lenFieldSize    = 4
	coordBytes      = 4
	blockTypeBytes  = 2
	blockDataBytes  = 1
	actorBytes      = 16
	jobBytes        = 8
	timeBytes       = 8

	defaultJournalBufferBytes    = 4 * 1024 * 1024
	minimalJournalBufferBytes    = 128
	defaultMaxEnqueuedMutation   = 1024
	defaultJournalEnqueueTimeout = 5 * time.Second
	defaultJournalFlushInterval  = time.Second
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// NewJournal opens (or creates) the segment at cfg.Path and starts the
// writer. Cancel ctx or call the returned function to flush and close.
func NewJournal(ctx context.Context, cfg JournalCfg) (*Journal, context.CancelFunc, error) {
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal %s: %w", cfg.Path, err)
	}

	bufferBytes := cfg.BufferBytes
	if bufferBytes <= 0 {
		bufferBytes = defaultJournalBufferBytes
	}
	if bufferBytes < minimalJournalBufferBytes {
		bufferBytes = minimalJournalBufferBytes
	}
	maxQueue := cfg.MaxEnqueuedMutation
	if maxQueue <= 0 {
		maxQueue = defaultMaxEnqueuedMutation
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultJournalEnqueueTimeout
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultJournalFlushInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	j := &Journal{
		cfg:     cfg,
		logger:  logger,
		writes:  make(chan journalMsg, maxQueue),
		flushT:  time.NewTicker(cfg.FlushInterval),
		stopped: make(chan struct{}),
		flusher: journalFlusher{
			active_segment: f,
			seq_number:     nextSequence(cfg.Path),
			maxBufferBytes: bufferBytes,
		},
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(j.stopped)
		j.run(runCtx)
		j.flushT.Stop()
		_ = j.flusher.active_segment.Close()
	}()
	return j, cancel, nil
}

// Append buffers mut into the journal and blocks until it is buffered.
func (j *Journal) Append(mut model.Mutation) error {
	msg := journalMsg{mut: mut, buffered: make(chan error, 1)}
	timeout := time.NewTimer(j.cfg.EnqueueTimeout)
	defer timeout.Stop()

	select {
	case j.writes <- msg:
	case <-j.stopped:
		return errors.New("journal is closed")
	case <-timeout.C:
		return errJournalTimeout
	}
	select {
	case err := <-msg.buffered:
		return err
	case <-j.stopped:
		return errors.New("journal closed before buffering mutation")
	}
}

// Done is closed once the writer has flushed and closed the segment.
func (j *Journal) Done() <-chan struct{} {
	return j.stopped
}

func (j *Journal) run(ctx context.Context) {
	for {
		select {
		case msg := <-j.writes:
			msg.mut.Sequence = j.flusher.seq_number
			flushed, err := j.flusher.write(encodeMutation(msg.mut))
			if err == nil {
				j.flusher.seq_number++
				journalAppends.Inc()
			}
			if flushed {
				journalFlushes.WithLabelValues("buffer").Inc()
			}
			msg.buffered <- err
		case <-j.flushT.C:
			if j.flusher.buffer.Len() == 0 {
				continue
			}
			if err := j.flusher.flush(); err != nil {
				j.logger.Error("journal periodic flush failed", "error", err)
				continue
			}
			journalFlushes.WithLabelValues("interval").Inc()
		case <-ctx.Done():
			j.drainPending()
			if err := j.flusher.flush(); err != nil {
				j.logger.Error("journal shutdown flush failed", "error", err)
			}
			journalFlushes.WithLabelValues("shutdown").Inc()
			j.logger.Info("journal closed", "path", j.cfg.Path, "next_sequence", j.flusher.seq_number)
			return
		}
	}
}

// drainPending buffers mutations that were enqueued before shutdown.
func (j *Journal) drainPending() {
	for {
		select {
		case msg := <-j.writes:
			msg.mut.Sequence = j.flusher.seq_number
			_, err := j.flusher.write(encodeMutation(msg.mut))
			if err == nil {
				j.flusher.seq_number++
			}
			msg.buffered <- err
		default:
			return
		}
	}
}

// write buffers data and reports whether the buffer had to be flushed first.
func (flusher *journalFlusher) write(data []byte) (bool, error) {
	if flusher.active_segment == nil {
		return false, errors.New("no active segment")
	}
	if len(data) > flusher.maxBufferBytes {
		return false, fmt.Errorf("journal entry (%d bytes) exceeds buffer size (%d bytes)", len(data), flusher.maxBufferBytes)
	}

	flushed := false
	if flusher.buffer.Len()+len(data) > flusher.maxBufferBytes {
		if err := flusher.flush(); err != nil {
			return false, err
		}
		flushed = true
	}
	_, err := flusher.buffer.Write(data)
	return flushed, err
}

func (flusher *journalFlusher) flush() error {
	if flusher.active_segment == nil {
		return errors.New("no active segment")
	}
	if flusher.buffer.Len() == 0 {
		return nil
	}
	if err := storage.Write(flusher.active_segment, flusher.buffer.Bytes()); err != nil {
		return err
	}
	err := flusher.active_segment.Sync()
	if err == nil {
		flusher.buffer.Reset()
	}
	return err
}

// LoadJournal reads every intact record of the segment at path. It stops at
// the first truncated or corrupted record.
func LoadJournal(path string, logger *slog.Logger) ([]model.Mutation, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mutations := make([]model.Mutation, 0)

	readFile, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return mutations, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer readFile.Close()

	fileInfo, err := readFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat journal: %w", err)
	}
	fileSize := fileInfo.Size()

	var offset int64
	for offset < fileSize {
		payload, next, err := readRecord(readFile, offset, fileSize)
		if err != nil {
			logger.Warn("journal truncated", "record", len(mutations), "offset", offset, "error", err)
			break
		}
		mut, err := decodePayload(payload)
		if err != nil {
			logger.Warn("journal record undecodable", "record", len(mutations), "offset", offset, "error", err)
			break
		}
		mutations = append(mutations, mut)
		offset = next
	}

	logger.Info("loaded journal", "mutations", len(mutations), "bytes", fileSize)
	return mutations, nil
}

// readRecord validates the record at offset and returns its payload and
// the offset of the next record.
func readRecord(f *os.File, offset, fileSize int64) ([]byte, int64, error) {
	if offset+payloadLenBytes+checksumBytes > fileSize {
		return nil, 0, errors.New("incomplete record header")
	}
	header, err := storage.Read(f, offset, payloadLenBytes+checksumBytes)
	if err != nil {
		return nil, 0, err
	}
	if len(header) < payloadLenBytes+checksumBytes {
		return nil, 0, errors.New("short read for record header")
	}
	payloadLen := int64(binary.BigEndian.Uint32(header[:payloadLenBytes]))
	expectedChecksum := binary.BigEndian.Uint32(header[payloadLenBytes:])
	offset += payloadLenBytes + checksumBytes

	if offset+payloadLen > fileSize {
		return nil, 0, fmt.Errorf("incomplete payload (expected %d bytes)", payloadLen)
	}
	payload, err := storage.Read(f, offset, int(payloadLen))
	if err != nil {
		return nil, 0, err
	}
	if int64(len(payload)) < payloadLen {
		return nil, 0, errors.New("short read for payload")
	}
	if actual := crc32.Checksum(payload, castagnoli); actual != expectedChecksum {
		return nil, 0, fmt.Errorf("crc mismatch: expected %x, got %x", expectedChecksum, actual)
	}
	return payload, offset + payloadLen, nil
}

// nextSequence scans the segment and returns the sequence number that
// follows the last intact record.
func nextSequence(path string) uint64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	fileInfo, err := f.Stat()
	if err != nil || fileInfo.Size() == 0 {
		return 0
	}
	fileSize := fileInfo.Size()

	var (
		offset int64
		next   uint64
	)
	for offset < fileSize {
		payload, after, err := readRecord(f, offset, fileSize)
		if err != nil || len(payload) < seqNumBytes {
			break
		}
		next = binary.BigEndian.Uint64(payload[:seqNumBytes]) + 1
		offset = after
	}
	return next
}

/*
encodeMutation returns the journal record for mut:

| PayloadLength | CRC32C  | Sequence | OpType | WorldLen | World   | X, Y, Z  | Type    | Data   | Actor    | Job     | Applied |
|---------------|---------|----------|--------|----------|---------|----------|---------|--------|----------|---------|---------|
| 4 bytes       | 4 bytes | 8 bytes  | 1 byte | 4 bytes  | W bytes | 3x4 bytes| 2 bytes | 1 byte | 16 bytes | 8 bytes | 8 bytes |

The CRC covers the payload, from Sequence to Applied (unix nanoseconds).
*/
func encodeMutation(mut model.Mutation) []byte {
	payload := make([]byte, 0, seqNumBytes+opTypeBytes+lenFieldSize+len(mut.World)+
		3*coordBytes+blockTypeBytes+blockDataBytes+actorBytes+jobBytes+timeBytes)
	payload = binary.BigEndian.AppendUint64(payload, mut.Sequence)
	payload = append(payload, byte(mut.Op))
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(mut.World)))
	payload = append(payload, mut.World...)
	payload = binary.BigEndian.AppendUint32(payload, uint32(int32(mut.Position.X)))
	payload = binary.BigEndian.AppendUint32(payload, uint32(int32(mut.Position.Y)))
	payload = binary.BigEndian.AppendUint32(payload, uint32(int32(mut.Position.Z)))
	payload = binary.BigEndian.AppendUint16(payload, mut.Block.Type)
	payload = append(payload, mut.Block.Data)
	payload = append(payload, mut.Actor[:]...)
	payload = binary.BigEndian.AppendUint64(payload, uint64(int64(mut.Job)))
	payload = binary.BigEndian.AppendUint64(payload, uint64(mut.Applied.UnixNano()))

	record := make([]byte, 0, payloadLenBytes+checksumBytes+len(payload))
	record = binary.BigEndian.AppendUint32(record, uint32(len(payload)))
	record = binary.BigEndian.AppendUint32(record, crc32.Checksum(payload, castagnoli))
	return append(record, payload...)
}

// decodePayload extracts the Mutation from the payload of a journal record,
// keeping its original sequence number.
func decodePayload(payload []byte) (model.Mutation, error) {
	fixed := seqNumBytes + opTypeBytes + lenFieldSize +
		3*coordBytes + blockTypeBytes + blockDataBytes + actorBytes + jobBytes + timeBytes
	if len(payload) < fixed {
		return model.Mutation{}, fmt.Errorf("payload too short: %d bytes (minimum %d)", len(payload), fixed)
	}

	var mut model.Mutation
	pos := 0
	mut.Sequence = binary.BigEndian.Uint64(payload[pos:])
	pos += seqNumBytes

	mut.Op = model.OpsType(payload[pos])
	if mut.Op != model.SET && mut.Op != model.CLEAR {
		return model.Mutation{}, fmt.Errorf("invalid operation type: %d", mut.Op)
	}
	pos += opTypeBytes

	worldLen := int(binary.BigEndian.Uint32(payload[pos:]))
	pos += lenFieldSize
	if len(payload) != fixed+worldLen {
		return model.Mutation{}, fmt.Errorf("world length (%d) does not match payload size %d", worldLen, len(payload))
	}
	mut.World = string(payload[pos : pos+worldLen])
	pos += worldLen

	mut.Position.X = int(int32(binary.BigEndian.Uint32(payload[pos:])))
	mut.Position.Y = int(int32(binary.BigEndian.Uint32(payload[pos+coordBytes:])))
	mut.Position.Z = int(int32(binary.BigEndian.Uint32(payload[pos+2*coordBytes:])))
	pos += 3 * coordBytes

	mut.Block.Type = binary.BigEndian.Uint16(payload[pos:])
	pos += blockTypeBytes
	mut.Block.Data = payload[pos]
	pos += blockDataBytes

	actor, err := uuid.FromBytes(payload[pos : pos+actorBytes])
	if err != nil {
		return model.Mutation{}, fmt.Errorf("actor: %w", err)
	}
	mut.Actor = actor
	pos += actorBytes

	mut.Job = model.JobID(int64(binary.BigEndian.Uint64(payload[pos:])))
	pos += jobBytes
	mut.Applied = time.Unix(0, int64(binary.BigEndian.Uint64(payload[pos:]))).UTC()
	return mut, nil
}
