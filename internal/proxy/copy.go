package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Stats counts the bytes CopyBidirectional delivered in each direction.
type Stats struct {
	LeftToRight int64
	RightToLeft int64
}

// CopyBidirectional relays bytes between left and right until either
// direction ends, then closes both. Each direction reads into its own buffer
// from pool and writes everything it read before reading again, so a slow
// writer stalls only its own direction.
//
// End of stream and errors caused by the fused close are not reported. The
// first other read or write error is returned. Canceling ctx closes both
// connections.
func CopyBidirectional(ctx context.Context, left, right net.Conn, pool *BufferPool) (Stats, error) {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	// If the context is canceled, close both sides to unblock the pumps.
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var (
		g     errgroup.Group
		stats Stats
	)

	g.Go(func() error {
		defer closeBoth()
		n, err := pump(right, left, pool)
		stats.LeftToRight = n
		return err
	})

	g.Go(func() error {
		defer closeBoth()
		n, err := pump(left, right, pool)
		stats.RightToLeft = n
		return err
	})

	return stats, g.Wait()
}

func pump(dst io.Writer, src io.Reader, pool *BufferPool) (int64, error) {
	bp := pool.Get()
	defer pool.Put(bp)
	buf := *bp

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, ignoreClosed(werr)
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, ignoreClosed(rerr)
		}
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
