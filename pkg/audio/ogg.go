package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Opus framing constants. Opus always runs at 48 kHz internally; the encoder
// consumes 20 ms frames.
const (
	opusRate      = 48000
	opusFrameMs   = 20
	opusFrameSize = opusRate * opusFrameMs / 1000 // samples per channel per frame
	opusPreSkip   = 312                           // encoder lookahead at 48 kHz
	opusBitrate   = 64000
)

// oggMaxPacketsPerPage bounds how many Opus packets share one Ogg page.
// Speech packets at 64 kbps are ~160 bytes, so 50 packets keep pages around
// 8 KiB and well under the 255-segment lacing limit.
const oggMaxPacketsPerPage = 50

// EncodeOggOpus encodes 16-bit PCM into a complete Ogg/Opus file, the format
// handed out for generated lecture audio. Input of any sample rate is
// resampled to 48 kHz; only mono and stereo are supported.
func EncodeOggOpus(pcm []byte, src Format) ([]byte, error) {
	if src.Channels != 1 && src.Channels != 2 {
		return nil, fmt.Errorf("audio: ogg/opus supports 1 or 2 channels, got %d", src.Channels)
	}

	if src.SampleRate != opusRate {
		if src.Channels == 1 {
			pcm = ResampleMono16(pcm, src.SampleRate, opusRate)
		} else {
			// Resample each interleaved channel via mono round-trip.
			mono := ToMono(pcm, 2)
			pcm = MonoToStereo(ResampleMono16(mono, src.SampleRate, opusRate))
		}
	}

	enc, err := gopus.NewEncoder(opusRate, src.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	enc.SetBitrate(opusBitrate)

	samples := BytesToInt16s(pcm)
	frameLen := opusFrameSize * src.Channels
	realSamples := uint64(len(samples) / src.Channels)

	// Pad the tail to a whole frame; the final granule position excludes the
	// padding so decoders trim it.
	if rem := len(samples) % frameLen; rem != 0 {
		samples = append(samples, make([]int16, frameLen-rem)...)
	}

	var packets [][]byte
	for off := 0; off < len(samples); off += frameLen {
		pkt, err := enc.Encode(samples[off:off+frameLen], opusFrameSize, frameLen*2)
		if err != nil {
			return nil, fmt.Errorf("audio: opus encode: %w", err)
		}
		packets = append(packets, pkt)
	}

	w := oggWriter{serial: 0x61756c61} // arbitrary fixed stream serial
	w.writePage([][]byte{opusHead(src.Channels, src.SampleRate)}, 0, oggFirstPage)
	w.writePage([][]byte{opusTags()}, 0, 0)

	encoded := uint64(0)
	for i := 0; i < len(packets); i += oggMaxPacketsPerPage {
		end := min(i+oggMaxPacketsPerPage, len(packets))
		batch := packets[i:end]
		encoded += uint64(len(batch) * opusFrameSize)

		granule := opusPreSkip + min(encoded, realSamples)
		flags := byte(0)
		if end == len(packets) {
			flags = oggLastPage
			granule = opusPreSkip + realSamples
		}
		w.writePage(batch, granule, flags)
	}

	return w.buf.Bytes(), nil
}

// opusHead builds the OpusHead identification packet (RFC 7845 §5.1).
// inputRate records the original sample rate for informational purposes.
func opusHead(channels, inputRate int) []byte {
	head := make([]byte, 19)
	copy(head[0:8], "OpusHead")
	head[8] = 1 // version
	head[9] = byte(channels)
	binary.LittleEndian.PutUint16(head[10:12], opusPreSkip)
	binary.LittleEndian.PutUint32(head[12:16], uint32(inputRate))
	// output gain 0, channel mapping family 0
	return head
}

// opusTags builds a minimal OpusTags comment packet (RFC 7845 §5.2).
func opusTags() []byte {
	vendor := "aulavox"
	tags := make([]byte, 8+4+len(vendor)+4)
	copy(tags[0:8], "OpusTags")
	binary.LittleEndian.PutUint32(tags[8:12], uint32(len(vendor)))
	copy(tags[12:], vendor)
	// trailing uint32 comment count stays 0
	return tags
}

// Ogg page header type flags.
const (
	oggFirstPage = 0x02 // beginning of stream
	oggLastPage  = 0x04 // end of stream
)

// oggWriter accumulates Ogg pages for a single logical bitstream.
type oggWriter struct {
	buf     bytes.Buffer
	serial  uint32
	pageSeq uint32
}

// writePage frames the given whole packets into one Ogg page. Packets longer
// than 255 bytes produce the multi-byte lacing runs the container requires.
func (w *oggWriter) writePage(packets [][]byte, granule uint64, headerType byte) {
	var lacing []byte
	var payload []byte
	for _, pkt := range packets {
		n := len(pkt)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		payload = append(payload, pkt...)
	}

	header := make([]byte, 27+len(lacing))
	copy(header[0:4], "OggS")
	header[4] = 0 // stream structure version
	header[5] = headerType
	binary.LittleEndian.PutUint64(header[6:14], granule)
	binary.LittleEndian.PutUint32(header[14:18], w.serial)
	binary.LittleEndian.PutUint32(header[18:22], w.pageSeq)
	// CRC (header[22:26]) is computed over the whole page with this field zero.
	header[26] = byte(len(lacing))
	copy(header[27:], lacing)

	crc := oggCRC(header, payload)
	binary.LittleEndian.PutUint32(header[22:26], crc)

	w.buf.Write(header)
	w.buf.Write(payload)
	w.pageSeq++
}

// oggCRCTable holds the direct (non-reflected) CRC-32 table for polynomial
// 0x04c11db7, the checksum Ogg mandates. This differs from hash/crc32, which
// only implements reflected variants.
var oggCRCTable = func() [256]uint32 {
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}()

// oggCRC computes the Ogg page checksum over header and payload.
func oggCRC(header, payload []byte) uint32 {
	var crc uint32
	for _, b := range header {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	for _, b := range payload {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}
