// Package trigger implements the one-line START signal used to begin the
// send phase of every process at about the same time.
package trigger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/IamArmanNikkhah/Causality-order-broadcasting/log"
)

const Start = "START"

// Wait accepts connections on ln until one of them sends the line START.
// Other lines and connections closed without a line are ignored.
// ln is closed when Wait returns.
func Wait(ctx context.Context, ln net.Listener, logger log.CbLog) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Z().Warn().Err(err).Msg("trigger accept failed")
			continue
		}
		line, err := readLine(conn)
		conn.Close()
		if err != nil {
			logger.Z().Debug().Err(err).Msg("trigger connection closed without a line")
			continue
		}
		if line == Start {
			logger.Info("trigger received")
			return nil
		}
		logger.Z().Warn().Str("line", line).Msg("ignoring unknown trigger")
	}
}

func readLine(conn net.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no line")
	}
	return strings.TrimSpace(sc.Text()), nil
}

// Send connects to addr, writes START and disconnects.
func Send(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", addr, err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(Start + "\n")); err != nil {
		return fmt.Errorf("trigger %s: %w", addr, err)
	}
	return nil
}

// SendAll triggers every address and reports the ones that failed.
func SendAll(ctx context.Context, addrs []string) error {
	var errs []error
	for _, addr := range addrs {
		if err := Send(ctx, addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
