package protocol

import (
	"time"

	"github.com/emberchain/emberd/chainmodel"
	"github.com/pkg/errors"
)

// headersBatchSize and blocksBatchSize bound a single request/response
// round during initial block download (spec.md §4.8 "IBD").
const (
	headersBatchSize = 2000
	blocksBatchSize  = 500
	ibdRoundTimeout  = 20 * time.Second
)

// ErrCheckpointMismatch is returned when a downloaded header disagrees
// with a pinned chaincfg.Params.Checkpoints entry; IBD aborts rather
// than merely penalizing the peer (spec.md §4.8).
var ErrCheckpointMismatch = errors.New("header chain disagrees with a checkpoint")

// maybeStartIBD begins initial block download against peer if no IBD
// session is already running. Grounded on the teacher's
// flowcontext.StartIBDIfRequired / handleIBDFlow, adapted from
// DAG-selected-tip sync to linear headers-then-bodies sync.
func (f *FlowContext) maybeStartIBD(peer *Peer) {
	f.ibdMu.Lock()
	if f.inIBD {
		f.ibdMu.Unlock()
		return
	}
	f.inIBD = true
	f.ibdPeer = peer
	f.ibdMu.Unlock()

	go func() {
		defer func() {
			f.ibdMu.Lock()
			f.inIBD = false
			f.ibdPeer = nil
			f.headersDeliveryFn = nil
			f.blocksDeliveryFn = nil
			f.ibdMu.Unlock()
		}()
		if err := f.runIBD(peer); err != nil {
			log.Errorf("initial block download from %s failed: %s", peer.Conn.RemoteAddr(), err)
			f.penalize(peer, ScoreProtocolViolation)
		}
	}()
}

// runIBD downloads and verifies the header chain from just above the
// local tip forward, checking checkpoints and proof-of-work
// before fetching any bodies, then fetches and applies bodies in
// order (spec.md §4.8: "headers-first, verify before bodies").
func (f *FlowContext) runIBD(peer *Peer) error {
	_, localHeight, _, err := f.chain.Tip()
	if err != nil {
		return errors.Wrap(err, "reading local tip")
	}

	headers, err := f.downloadHeaders(peer, localHeight+1)
	if err != nil {
		return err
	}
	if err := f.verifyHeaderChain(headers); err != nil {
		return err
	}

	for start := 0; start < len(headers); start += blocksBatchSize {
		end := start + blocksBatchSize
		if end > len(headers) {
			end = len(headers)
		}
		fromHeight := headers[start].Height
		blocks, err := f.downloadBlocks(peer, fromHeight, uint32(end-start))
		if err != nil {
			return err
		}
		for _, block := range blocks {
			if err := f.chain.SubmitBlock(block); err != nil {
				return errors.Wrapf(err, "applying block at height %d", block.Header.Height)
			}
		}
	}
	return nil
}

// downloadHeaders pulls the full header chain starting at fromHeight
// in headersBatchSize-sized rounds until the peer returns fewer than a
// full batch.
func (f *FlowContext) downloadHeaders(peer *Peer, fromHeight uint64) ([]*chainmodel.BlockHeader, error) {
	var all []*chainmodel.BlockHeader
	for {
		result := make(chan []*chainmodel.BlockHeader, 1)
		f.ibdMu.Lock()
		f.headersDeliveryFn = func(p *Peer, headers []*chainmodel.BlockHeader) {
			if p == peer {
				select {
				case result <- headers:
				default:
				}
			}
		}
		f.ibdMu.Unlock()

		if err := peer.Conn.Send(&MsgGetHeaders{FromHeight: fromHeight, Count: headersBatchSize}); err != nil {
			return nil, errors.Wrap(err, "requesting headers")
		}

		select {
		case headers := <-result:
			all = append(all, headers...)
			if len(headers) < headersBatchSize {
				return all, nil
			}
			fromHeight += uint64(len(headers))
		case <-time.After(ibdRoundTimeout):
			return nil, errors.New("timed out waiting for headers")
		}
	}
}

// downloadBlocks requests count blocks starting at fromHeight and
// waits for the matching response.
func (f *FlowContext) downloadBlocks(peer *Peer, fromHeight uint64, count uint32) ([]*chainmodel.Block, error) {
	result := make(chan []*chainmodel.Block, 1)
	f.ibdMu.Lock()
	f.blocksDeliveryFn = func(p *Peer, blocks []*chainmodel.Block) {
		if p == peer {
			select {
			case result <- blocks:
			default:
			}
		}
	}
	f.ibdMu.Unlock()

	if err := peer.Conn.Send(&MsgGetBlocks{FromHeight: fromHeight, Count: count}); err != nil {
		return nil, errors.Wrap(err, "requesting blocks")
	}

	select {
	case blocks := <-result:
		return blocks, nil
	case <-time.After(ibdRoundTimeout):
		return nil, errors.New("timed out waiting for blocks")
	}
}

// verifyHeaderChain checks link-by-link continuity, proof-of-work, and
// pinned checkpoints before any body is downloaded (spec.md §4.8).
// Timestamp monotonicity and difficulty-retarget correctness are full
// consensus checks performed again by BlockValidator when each body is
// applied; this pass only rules out a chain that could never pass
// that later check, so IBD does not waste bandwidth fetching bodies
// for an obviously-invalid chain.
func (f *FlowContext) verifyHeaderChain(headers []*chainmodel.BlockHeader) error {
	var prev *chainmodel.BlockHeader
	for _, h := range headers {
		if !h.MeetsDifficulty() {
			return errors.Errorf("header at height %d does not meet its difficulty target", h.Height)
		}
		if prev != nil {
			if h.Height != prev.Height+1 {
				return errors.Errorf("non-contiguous header heights %d -> %d", prev.Height, h.Height)
			}
			if h.PreviousHash != prev.Hash() {
				return errors.Errorf("header at height %d does not link to its predecessor", h.Height)
			}
			if h.Timestamp <= prev.Timestamp {
				return errors.Errorf("header at height %d does not advance the timestamp", h.Height)
			}
		}
		if expected, ok := f.chain.CheckpointAt(h.Height); ok && expected != h.Hash() {
			return errors.Wrapf(ErrCheckpointMismatch, "height %d", h.Height)
		}
		prev = h
	}
	return nil
}
