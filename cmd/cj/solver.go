package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"crewjob/internal/domain"
	cjerrors "crewjob/internal/errors"
)

// terminalSolver asks the player to pick the highlighted value on the terminal.
type terminalSolver struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalSolver(in io.Reader, out io.Writer) *terminalSolver {
	return &terminalSolver{in: bufio.NewReader(in), out: out}
}

func (s *terminalSolver) Solve(ctx context.Context, ch domain.Challenge) (int, error) {
	vals := make([]string, len(ch.Candidates))
	for i, v := range ch.Candidates {
		vals[i] = strconv.Itoa(v)
	}
	fmt.Fprintf(s.out, "Verification: type %d from [%s] within %s: ",
		ch.CorrectValue, strings.Join(vals, " "), time.Until(ch.ExpiresAt).Round(time.Second))

	type answer struct {
		v   int
		err error
	}
	got := make(chan answer, 1)
	go func() {
		line, err := s.in.ReadString('\n')
		if err != nil && strings.TrimSpace(line) == "" {
			got <- answer{err: err}
			return
		}
		v, err := strconv.Atoi(strings.TrimSpace(line))
		got <- answer{v: v, err: err}
	}()
	select {
	case <-ctx.Done():
		fmt.Fprintln(s.out)
		return 0, ctx.Err()
	case a := <-got:
		return a.v, a.err
	}
}

// explain adds a hint to errors the player can act on.
func explain(err error) error {
	if secs, ok := cjerrors.RetryAfter(err); ok {
		if cjerrors.Is(err, cjerrors.ErrRestricted) {
			return fmt.Errorf("account restricted after a failed verification, retry in %ds: %w", secs, err)
		}
		return fmt.Errorf("slow down, retry in %ds: %w", secs, err)
	}
	switch cjerrors.CodeOf(err) {
	case cjerrors.CodeBlocked:
		return fmt.Errorf("still cooling down: %w", err)
	case cjerrors.CodeChallengeFailed:
		return fmt.Errorf("verification failed; the server will restrict you for a while: %w", err)
	case cjerrors.CodeWaitingForCrew:
		return fmt.Errorf("the crew is not complete yet: %w", err)
	case cjerrors.CodeNotLeader:
		return fmt.Errorf("only the party leader can do this: %w", err)
	case cjerrors.CodePartyFull:
		return fmt.Errorf("that party filled up first; pick another: %w", err)
	case cjerrors.CodeTransport:
		return fmt.Errorf("cannot reach the server: %w", err)
	}
	return err
}
