package types

import (
	"sort"
	"time"
)

// UploadState describes the lifecycle of a chunked upload session.
type UploadState string

const (
	UploadInitiated  UploadState = "INITIATED"
	UploadUploading  UploadState = "UPLOADING"
	UploadValidating UploadState = "VALIDATING"
	UploadAssembling UploadState = "ASSEMBLING"
	UploadCompleted  UploadState = "COMPLETED"
	UploadError      UploadState = "ERROR"
	UploadCancelled  UploadState = "CANCELLED"
	UploadExpired    UploadState = "EXPIRED"
)

// Terminal reports whether the state admits no further chunk activity.
func (s UploadState) Terminal() bool {
	switch s {
	case UploadCompleted, UploadError, UploadCancelled, UploadExpired:
		return true
	}
	return false
}

// ChunkInfo records what was received for a single chunk index.
type ChunkInfo struct {
	Size       int64
	Checksum   string // MD5 hex of the chunk body
	ReceivedAt time.Time
}

// UploadSession is the descriptor of one chunked ingestion. Chunk indices are
// 1-based. At most one non-terminal UploadSession exists per ClassSession.
type UploadSession struct {
	ID             string
	ClassSessionID string

	OriginalFilename  string
	SanitizedFilename string
	ContentType       string

	// TotalSize is the declared size of the whole file in bytes; zero means
	// the client did not declare it.
	TotalSize int64
	ChunkSize int64
	// ExpectedChunks is derived from TotalSize/ChunkSize at creation, or set
	// by the first upload_chunk call that carries a total; zero until known.
	ExpectedChunks int
	// ExpectedChecksum is the optional MD5 hex of the assembled file supplied
	// at creation; when present assembly verifies it.
	ExpectedChecksum string

	State UploadState
	// Chunks maps chunk number to its receipt record. A chunk number appears
	// at most once; duplicates are rejected without overwrite.
	Chunks map[int]ChunkInfo

	FinalURL  string
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// BytesUploaded sums the recorded chunk sizes.
func (s *UploadSession) BytesUploaded() int64 {
	var total int64
	for _, c := range s.Chunks {
		total += c.Size
	}
	return total
}

// MissingChunks returns the chunk numbers in [1..ExpectedChunks] not yet
// received, in ascending order. With ExpectedChunks unknown it returns nil.
func (s *UploadSession) MissingChunks() []int {
	if s.ExpectedChunks <= 0 {
		return nil
	}
	var missing []int
	for n := 1; n <= s.ExpectedChunks; n++ {
		if _, ok := s.Chunks[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// ChunkNumbers returns the received chunk numbers in ascending order.
func (s *UploadSession) ChunkNumbers() []int {
	nums := make([]int, 0, len(s.Chunks))
	for n := range s.Chunks {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Expired reports whether the session has outlived its deadline at the given
// instant while still active.
func (s *UploadSession) Expired(now time.Time) bool {
	return !s.State.Terminal() && now.After(s.ExpiresAt)
}

// ChunkStatus distinguishes a freshly stored chunk from an idempotent replay.
type ChunkStatus string

const (
	ChunkReceived  ChunkStatus = "received"
	ChunkDuplicate ChunkStatus = "duplicate"
)

// ChunkReceipt is returned for every accepted upload_chunk call and carries
// the session's progress snapshot.
type ChunkReceipt struct {
	Status      ChunkStatus
	ChunkNumber int

	Received int
	Expected int // zero when still unknown
	Pct      float64
	Complete bool

	BytesUploaded int64
	// SpeedBps is an exponential moving average of the recent upload
	// throughput in bytes per second; zero when not yet measurable.
	SpeedBps float64
	// ETASeconds estimates the remaining upload time from SpeedBps; zero when
	// unknown.
	ETASeconds float64
}

// ChunkUpload is the append-only audit record written for each received
// chunk. It survives session cleanup for recovery and forensics.
type ChunkUpload struct {
	ID              string
	UploadSessionID string
	ChunkNumber     int
	Size            int64
	Checksum        string
	StorageKey      string
	ReceivedAt      time.Time
}

// UploadStatus is the external projection of an upload session.
type UploadStatus struct {
	SessionID     string
	State         UploadState
	Received      int
	Expected      int
	Pct           float64
	BytesUploaded int64
	SpeedBps      float64
	ETASeconds    float64
	MissingChunks []int
	FinalURL      string
	LastError     string
	ExpiresAt     time.Time
}
