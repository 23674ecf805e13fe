package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/VanDung-dev/HieraMesh/hieramesh/node"
	"github.com/VanDung-dev/HieraMesh/hieramesh/protocol"
	"github.com/VanDung-dev/HieraMesh/hieramesh/voting"
)

const (
	maxInputLength = 512

	defaultProposal = "Enable secure-only messaging for all future communications"
)

var (
	errEmptyInput   = errors.New("empty input")
	errInputTooLong = fmt.Errorf("input longer than %d characters", maxInputLength)
	errUsage        = errors.New("usage")
)

type command struct {
	name string
	arg  string
}

// parseLine splits a line into a command and its argument. Text without a
// leading slash is a signed chat message.
func parseLine(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmptyInput
	}
	if utf8.RuneCountInString(line) > maxInputLength {
		return command{}, errInputTooLong
	}
	if !strings.HasPrefix(line, "/") {
		return command{name: "msg", arg: line}, nil
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, nil
}

// parseDecision accepts approve/reject and the usual yes/no spellings.
func parseDecision(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "approve", "yes", "y", "true", "1":
		return true, nil
	case "reject", "no", "n", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: decision must be approve or reject, got %q", errUsage, s)
}

// resolveProposal finds the proposal whose id equals or uniquely starts
// with prefix.
func resolveProposal(proposals []voting.Summary, prefix string) (string, error) {
	var match string
	for _, p := range proposals {
		if p.ID == prefix {
			return p.ID, nil
		}
		if strings.HasPrefix(p.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("proposal id %q is ambiguous", prefix)
			}
			match = p.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", voting.ErrUnknownProposal, prefix)
	}
	return match, nil
}

type repl struct {
	coord   *node.Coordinator
	out     *display
	quit    context.CancelFunc
	// publish forwards local events to the node's event bus. When nil
	// they are rendered directly.
	publish func(...protocol.Event)
}

func (r *repl) emit(events []protocol.Event) {
	if r.publish != nil {
		r.publish(events...)
		return
	}
	for _, ev := range events {
		r.out.event(ev)
	}
}

// loop reads commands until EOF, /quit or ctx ends.
func (r *repl) loop(ctx context.Context, in io.Reader) {
	r.out.help()
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd, err := parseLine(scanner.Text())
		if errors.Is(err, errEmptyInput) {
			continue
		}
		if err != nil {
			r.out.failure(err)
			continue
		}
		if done := r.exec(ctx, cmd); done {
			break
		}
	}
	r.quit()
}

// exec runs one command and reports whether the session should end.
func (r *repl) exec(ctx context.Context, cmd command) bool {
	switch cmd.name {
	case "msg":
		if cmd.arg == "" {
			r.out.failure(fmt.Errorf("%w: /msg <text>", errUsage))
			return false
		}
		r.chat(ctx, cmd.arg, true)
	case "unsigned":
		if cmd.arg == "" {
			r.out.failure(fmt.Errorf("%w: /unsigned <text>", errUsage))
			return false
		}
		r.chat(ctx, cmd.arg, false)
	case "list", "peers":
		r.out.peers(r.coord.Peers())
	case "crypto":
		r.out.crypto(r.coord.Status())
		r.out.report("key announced", r.coord.AnnounceKey(ctx))
	case "propose":
		desc := cmd.arg
		if desc == "" {
			desc = defaultProposal
		}
		id, report, err := r.coord.Propose(ctx, desc)
		if err != nil {
			r.out.failure(err)
			return false
		}
		r.emit(report.Events)
		r.out.report("proposal "+id+" sent", report)
	case "vote":
		r.vote(ctx, cmd.arg)
	case "proposals":
		if cmd.arg == "" {
			r.out.proposals(r.coord.Proposals())
			return false
		}
		r.proposal(cmd.arg)
	case "status":
		r.out.status(r.coord.Status())
	case "help":
		r.out.help()
	case "quit", "exit":
		return true
	default:
		r.out.failure(fmt.Errorf("unknown command /%s, try /help", cmd.name))
	}
	return false
}

func (r *repl) chat(ctx context.Context, text string, sign bool) {
	report, err := r.coord.SendChat(ctx, text, sign)
	if err != nil {
		if errors.Is(err, node.ErrUnsignedRejected) {
			err = fmt.Errorf("secure-only mode is active, unsigned messages are disabled: %w", err)
		}
		r.out.failure(err)
		return
	}
	r.out.sent(text, sign, report)
	r.emit(report.Events)
}

func (r *repl) proposal(prefix string) {
	id, err := resolveProposal(r.coord.Proposals(), prefix)
	if err != nil {
		r.out.failure(err)
		return
	}
	s, ok := r.coord.Proposal(id)
	if !ok {
		r.out.failure(fmt.Errorf("%w: %s", voting.ErrUnknownProposal, id))
		return
	}
	r.out.proposals([]voting.Summary{s})
}

func (r *repl) vote(ctx context.Context, arg string) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		r.out.failure(fmt.Errorf("%w: /vote <proposal-id> <approve|reject>", errUsage))
		return
	}
	approve, err := parseDecision(fields[1])
	if err != nil {
		r.out.failure(err)
		return
	}
	id, err := resolveProposal(r.coord.Proposals(), fields[0])
	if err != nil {
		r.out.failure(err)
		return
	}
	report, err := r.coord.CastVote(ctx, id, approve)
	if err != nil {
		r.out.failure(err)
		return
	}
	r.emit(report.Events)
	r.out.report("vote sent", report)
}
