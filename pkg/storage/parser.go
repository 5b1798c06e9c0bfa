// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxIndexErrorBytes bounds the amount of unreadable trailing data the
// parser tolerates as end-of-stream padding, per spec §3/§4.F.
const MaxIndexErrorBytes = 32 * 1024

// UnknownStreamSize is passed to NewContinuousBatchParser when the caller
// cannot cheaply determine how many bytes remain in the stream. Padding
// tolerance then falls back to evaluating bytes actually read rather than
// true distance to end-of-stream.
const UnknownStreamSize int64 = -1

// ErrCorruption is returned by the parser when framing, CRC, or size
// checks fail in a way padding tolerance cannot explain. It is fatal for
// the parser instance producing it; the instance must be discarded.
var ErrCorruption = errors.New("batch framing corruption")

// ConsumerAction tells the parser how to proceed after a batch is handed
// to the installed consumer.
type ConsumerAction int

const (
	ConsumerContinue ConsumerAction = iota
	ConsumerStop
	ConsumerSkipBatch
)

// BatchConsumer is invoked once per successfully framed batch.
type BatchConsumer func(RecordBatch) (ConsumerAction, error)

type parserState int

const (
	stateReadHeader parserState = iota
	stateReadBody
	stateEmitBatch
	stateDone
	stateError
)

// ContinuousBatchParser is a pull-driven state machine over an input
// stream, per spec §4.F: ReadHeader -> ValidateHeader -> ReadBody ->
// EmitBatch -> (loop | EndOfStream | Error). It is restartable only by
// constructing a new instance at a new byte position; an instance that
// has returned an error or reached end-of-stream must not be reused.
//
// Padding tolerance applies only to a header that is short or fails to
// validate: that shape is indistinguishable from writer-appended padding.
// A body that comes up short, or fails its CRC, after a header that
// validated cleanly is always corruption — a real header promised that
// body, so its absence is truncation, not padding, regardless of how
// close to the end of the stream it occurs.
type ContinuousBatchParser struct {
	r       io.Reader
	state   parserState
	header  [recordBatchHeaderMinSize]byte
	bodyLen int32
	pending RecordBatch
	err     error

	remaining      int64
	remainingKnown bool
}

// NewContinuousBatchParser constructs a parser reading from r, which must
// already be positioned at the first batch's first header byte.
// streamRemainingBytes is the number of bytes left between that position
// and the true end of the stream; pass UnknownStreamSize if the caller
// cannot determine it cheaply.
func NewContinuousBatchParser(r io.Reader, streamRemainingBytes int64) *ContinuousBatchParser {
	p := &ContinuousBatchParser{r: r, state: stateReadHeader}
	if streamRemainingBytes >= 0 {
		p.remaining = streamRemainingBytes
		p.remainingKnown = true
	}
	return p
}

// Run drives the state machine to completion, invoking consume for every
// framed batch until the consumer requests Stop, the stream ends cleanly,
// or corruption is detected. A clean end-of-stream returns nil; framing
// failures beyond the tolerated trailing padding return an error wrapping
// ErrCorruption.
func (p *ContinuousBatchParser) Run(consume BatchConsumer) error {
	for {
		switch p.state {
		case stateReadHeader:
			done, err := p.readHeader()
			if err != nil {
				p.state = stateError
				p.err = err
				return err
			}
			if done {
				p.state = stateDone
				continue
			}
			p.state = stateReadBody
		case stateReadBody:
			done, err := p.readBody()
			if err != nil {
				p.state = stateError
				p.err = err
				return err
			}
			if done {
				p.state = stateDone
				continue
			}
			p.state = stateEmitBatch
		case stateEmitBatch:
			action, err := consume(p.pending)
			if err != nil {
				p.state = stateError
				p.err = err
				return err
			}
			switch action {
			case ConsumerStop:
				// Unlike a clean end-of-stream, a consumer-requested stop
				// is not terminal for the instance: the next call to Run
				// resumes at the following header, which is how a reader
				// drains a segment across several bounded calls.
				p.state = stateReadHeader
				return nil
			case ConsumerSkipBatch, ConsumerContinue:
				p.state = stateReadHeader
			default:
				err := fmt.Errorf("unknown consumer action %d", action)
				p.state = stateError
				p.err = err
				return err
			}
		case stateDone:
			return nil
		case stateError:
			return p.err
		}
	}
}

// readHeader reads and validates the fixed header prefix. done=true with
// a nil error means a clean end-of-stream within the padding tolerance.
//
// Tolerance is judged against the bytes unread at the start of this
// attempt — the whole span from the end of the last good batch to true
// end-of-stream — not against what is left over once this attempt has
// consumed part of it.
func (p *ContinuousBatchParser) readHeader() (done bool, err error) {
	startRemaining, startKnown := p.remaining, p.remainingKnown
	tolerable := func(n int64) bool {
		if startKnown {
			return startRemaining <= MaxIndexErrorBytes
		}
		return n <= MaxIndexErrorBytes
	}

	n, err := io.ReadFull(p.r, p.header[:])
	p.advance(int64(n))
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			if tolerable(int64(n)) {
				return true, nil
			}
			return false, fmt.Errorf("%w: short header read of %d bytes exceeds padding tolerance", ErrCorruption, n)
		}
		return false, fmt.Errorf("read batch header: %w", err)
	}
	if validateErr := p.validateHeader(); validateErr != nil {
		if tolerable(int64(n)) {
			return true, nil
		}
		return false, validateErr
	}
	return false, nil
}

func (p *ContinuousBatchParser) validateHeader() error {
	if p.header[offMagic] != recordBatchMagic {
		return fmt.Errorf("%w: bad magic byte %d", ErrCorruption, p.header[offMagic])
	}
	length := int32(binary.BigEndian.Uint32(p.header[offLength:]))
	minLength := int32(recordBatchHeaderMinSize - frameHeaderLen)
	if length < minLength {
		return fmt.Errorf("%w: header length %d below minimum %d", ErrCorruption, length, minLength)
	}
	const maxSaneLength = 256 * 1024 * 1024
	if length > maxSaneLength {
		return fmt.Errorf("%w: header length %d exceeds sane maximum", ErrCorruption, length)
	}
	p.bodyLen = length - minLength
	return nil
}

// readBody reads and validates the body, producing the parsed batch in
// p.pending. A short read or CRC mismatch here is always corruption: the
// header that preceded it already validated as a real batch promising
// this body.
func (p *ContinuousBatchParser) readBody() (done bool, err error) {
	body := make([]byte, p.bodyLen)
	n, err := io.ReadFull(p.r, body)
	p.advance(int64(n))
	if err != nil {
		return false, fmt.Errorf("%w: short body read after %d/%d bytes: %v", ErrCorruption, n, p.bodyLen, err)
	}
	expectedCRC := binary.BigEndian.Uint32(p.header[offCRC:])
	if got := bodyCRC(body); got != expectedCRC {
		return false, fmt.Errorf("%w: crc mismatch: header=%d computed=%d", ErrCorruption, expectedCRC, got)
	}
	framed := append(append([]byte(nil), p.header[:]...), body...)
	batch, err := NewRecordBatchFromBytes(framed)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	p.pending = batch
	return false, nil
}

// Done reports whether the parser reached a clean end-of-stream. It
// never reports true after a consumer-requested Stop, only after
// readHeader found the trailing region exhausted within tolerance.
func (p *ContinuousBatchParser) Done() bool {
	return p.state == stateDone
}

func (p *ContinuousBatchParser) advance(n int64) {
	if p.remainingKnown {
		p.remaining -= n
	}
}
