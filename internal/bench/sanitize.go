package bench

import (
	"fmt"
	"log/slog"
	"math"
	"math/bits"

	"github.com/dustin/go-humanize"
)

// AdjustmentReason says which rule changed a buffer size.
type AdjustmentReason string

const (
	ReasonAllocLimit   AdjustmentReason = "max-alloc"
	ReasonDeviceMemory AdjustmentReason = "device-memory"
	ReasonAlignment    AdjustmentReason = "alignment"
	ReasonMinimum      AdjustmentReason = "minimum"
)

// Adjustment records one change made by Sanitize.
type Adjustment struct {
	Reason    AdjustmentReason `json:"reason"`
	FromBytes uint64           `json:"fromBytes"`
	ToBytes   uint64           `json:"toBytes"`
}

// SizeRequest describes a buffer type to be sized against a device.
type SizeRequest struct {
	Name             string
	RequestedBytes   uint64
	MaxAllocBytes    uint64
	TotalMemoryBytes uint64
	ElementWidth     uint64

	// Logger receives the size adjustment notices. Defaults to slog.Default().
	Logger *slog.Logger
}

// Buffer is a sanitized buffer descriptor. Every device allocation of this
// buffer type uses Bytes.
type Buffer struct {
	Name           string       `json:"name"`
	ElementWidth   uint64       `json:"elementWidth"`
	RequestedBytes uint64       `json:"requestedBytes"`
	Bytes          uint64       `json:"bytes"`
	Elements       uint64       `json:"elements"`
	Adjustments    []Adjustment `json:"adjustments,omitempty"`
}

// RequestBytes returns elements*width, saturating at math.MaxUint64 so an
// oversized request is clamped by Sanitize instead of wrapping around.
func RequestBytes(elements, width uint64) uint64 {
	hi, lo := bits.Mul64(elements, width)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

// Sanitize computes a safe element count for req. The result never exceeds
// the allocation cap, leaves room for CoResidentBuffers copies in device
// memory and is a multiple of MaxLocalSize elements.
//
// A request that rounds down to zero elements is floored at MaxLocalSize
// elements when that still fits; otherwise ErrBufferTooSmall is returned.
func Sanitize(req SizeRequest) (Buffer, error) {
	if req.ElementWidth == 0 || req.MaxAllocBytes == 0 || req.TotalMemoryBytes == 0 {
		return Buffer{}, fmt.Errorf("%w: %s (width=%d maxAlloc=%d totalMem=%d)",
			ErrInvalidSize, req.Name, req.ElementWidth, req.MaxAllocBytes, req.TotalMemoryBytes)
	}

	log := loggerOrDefault(req.Logger)
	buf := Buffer{
		Name:           req.Name,
		ElementWidth:   req.ElementWidth,
		RequestedBytes: req.RequestedBytes,
	}

	bytes := req.RequestedBytes
	if bytes > req.MaxAllocBytes {
		buf.record(ReasonAllocLimit, bytes, req.MaxAllocBytes)
		log.Debug("Clamping buffer to max allocation",
			"buffer", req.Name,
			"from", humanize.IBytes(bytes),
			"to", humanize.IBytes(req.MaxAllocBytes),
		)
		bytes = req.MaxAllocBytes
	}

	// 3*bytes > total, written to avoid overflow.
	limit := req.TotalMemoryBytes / CoResidentBuffers
	for bytes > limit {
		log.Info("Adjusting buffer size to fit device memory",
			"buffer", req.Name,
			"from", humanize.IBytes(bytes),
			"to", humanize.IBytes(bytes/2),
		)
		buf.record(ReasonDeviceMemory, bytes, bytes/2)
		bytes /= 2
	}

	elements := bytes / req.ElementWidth
	if elements%MaxLocalSize != 0 {
		rounded := elements / MaxLocalSize * MaxLocalSize
		log.Info("Rounding buffer to work-group multiple",
			"buffer", req.Name,
			"from", humanize.IBytes(elements*req.ElementWidth),
			"to", humanize.IBytes(rounded*req.ElementWidth),
		)
		buf.record(ReasonAlignment, elements*req.ElementWidth, rounded*req.ElementWidth)
		elements = rounded
	}

	if elements == 0 {
		floor := uint64(MaxLocalSize) * req.ElementWidth
		if floor > req.MaxAllocBytes || floor > limit {
			return Buffer{}, fmt.Errorf("%w: %s needs %s per buffer", ErrBufferTooSmall, req.Name, humanize.IBytes(floor))
		}
		log.Warn("Buffer below one work-group, using minimum size",
			"buffer", req.Name,
			"elements", MaxLocalSize,
		)
		buf.record(ReasonMinimum, 0, floor)
		elements = MaxLocalSize
	}

	buf.Elements = elements
	buf.Bytes = elements * req.ElementWidth
	return buf, nil
}

func (b *Buffer) record(reason AdjustmentReason, from, to uint64) {
	b.Adjustments = append(b.Adjustments, Adjustment{Reason: reason, FromBytes: from, ToBytes: to})
}
