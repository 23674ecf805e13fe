package main

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/VanDung-dev/HieraMesh/hieramesh/node"
	"github.com/VanDung-dev/HieraMesh/hieramesh/protocol"
	"github.com/VanDung-dev/HieraMesh/hieramesh/registry"
	"github.com/VanDung-dev/HieraMesh/hieramesh/voting"
)

// display renders events and command output. Events arrive from the bus
// goroutine while commands run on the input goroutine.
type display struct {
	mu sync.Mutex
	w  io.Writer
}

func newDisplay(w io.Writer) *display {
	return &display{w: w}
}

// The helpers below write to d.w; pterm's package level printers would go
// to stdout. Callers hold d.mu.

func (d *display) info(format string, a ...any) {
	pterm.Info.WithWriter(d.w).Printfln(format, a...)
}

func (d *display) success(format string, a ...any) {
	pterm.Success.WithWriter(d.w).Printfln(format, a...)
}

func (d *display) warn(format string, a ...any) {
	pterm.Warning.WithWriter(d.w).Printfln(format, a...)
}

func (d *display) line(format string, a ...any) {
	fmt.Fprintf(d.w, format+"\n", a...)
}

func (d *display) table(data pterm.TableData, header bool) {
	t := pterm.DefaultTable.WithData(data)
	if header {
		t = t.WithHasHeader()
	}
	out, err := t.Srender()
	if err != nil {
		pterm.Error.WithWriter(d.w).Println(err)
		return
	}
	fmt.Fprintln(d.w, out)
}

func (d *display) banner(st node.Status, cfg node.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fmt.Fprintln(d.w, pterm.DefaultHeader.WithFullWidth().Sprint(Name+" v"+Version))
	d.info("Name: %s", pterm.LightCyan(st.Name))
	d.info("Peer ID: %s", st.PeerID)
	d.info("Listening on %s (%s), discovery on UDP %d", st.Address, cfg.Transport, cfg.DiscoveryPort)
	d.info("Public key: %s", short(st.Fingerprint, 16))
	if cfg.MetricsAddr != "" {
		d.info("Metrics on http://%s/metrics", cfg.MetricsAddr)
	}
	if cfg.InspectAddr != "" {
		d.info("Inspect server on %s", cfg.InspectAddr)
	}
	fmt.Fprintln(d.w)
}

func (d *display) help() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.table(pterm.TableData{
		{"Command", "Description"},
		{"<text>", "Send a signed message"},
		{"/msg <text>", "Send a signed message"},
		{"/unsigned <text>", "Send an unsigned message"},
		{"/list", "Show peers"},
		{"/crypto", "Show keys and announce ours"},
		{"/propose [description]", "Propose secure-only mode"},
		{"/vote <id> <approve|reject>", "Vote on a proposal"},
		{"/proposals [id]", "Show proposals or one proposal"},
		{"/status", "Show node status"},
		{"/quit", "Leave the network"},
	}, true)
}

func (d *display) event(ev protocol.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Type {
	case protocol.PeerDiscovered:
		d.success("%s joined (%s)", pterm.LightCyan(ev.PeerName), ev.Address)
	case protocol.PeerLeft:
		d.warn("%s left (%s)", pterm.LightCyan(nameOr(ev.PeerName, ev.PeerID)), ev.Reason)
	case protocol.ChatReceived:
		badge := pterm.LightGreen("[verified]")
		if ev.Status == protocol.Unsigned {
			badge = pterm.LightYellow("[unsigned]")
		}
		d.line("%s %s %s: %s", clock(ev.Timestamp), badge, pterm.LightCyan(ev.PeerName), ev.Content)
	case protocol.ProposalCreated:
		if ev.Inert {
			d.info("Proposal %s from %s arrived after secure-only mode was enabled", ev.ProposalID, short(ev.PeerID, 8))
			return
		}
		d.info("Proposal %s: %q (needs %d approvals)", ev.ProposalID, ev.Description, ev.Required)
		d.info("Vote with /vote %s approve|reject", short(ev.ProposalID, 8))
	case protocol.VoteRecorded:
		decision := pterm.LightGreen("approve")
		if !ev.Approve {
			decision = pterm.LightRed("reject")
		}
		d.info("%s voted %s on %s (%d/%d)", short(ev.PeerID, 8), decision, short(ev.ProposalID, 8), ev.Approvals, ev.Required)
	case protocol.SecureModeActivated:
		fmt.Fprintln(d.w, pterm.DefaultBox.WithTitle(pterm.LightGreen("|SECURE-ONLY|")).WithTitleTopCenter().
			Sprint(fmt.Sprintf("Proposal %s passed with %d/%d approvals.\nUnsigned messages are now rejected.",
				ev.ProposalID, ev.Approvals, ev.Required)))
	case protocol.MessageRejected:
		d.warn("Rejected %s from %s: %s", nameOr(string(ev.Kind), "message"), nameOr(ev.PeerID, ev.Address), ev.Reason)
	}
}

func (d *display) sent(text string, signed bool, report node.Report) {
	d.mu.Lock()
	badge := pterm.LightGreen("[signed]")
	if !signed {
		badge = pterm.LightYellow("[unsigned]")
	}
	d.line("%s %s %s: %s", clock(time.Now().Unix()), badge, pterm.Gray("you"), text)
	d.mu.Unlock()
	d.failures(report)
}

func (d *display) report(what string, report node.Report) {
	d.mu.Lock()
	d.success("%s to %d peer(s)", what, len(report.Deliveries)-len(report.Failed()))
	d.mu.Unlock()
	d.failures(report)
}

func (d *display) failures(report node.Report) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range report.Failed() {
		d.warn("Could not reach %s: %v", nameOr(f.PeerID, f.Address), f.Err)
	}
}

func (d *display) failure(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pterm.Error.WithWriter(d.w).Println(err)
}

func (d *display) peers(peers []registry.PeerInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(peers) == 0 {
		d.info("No peers discovered yet")
		return
	}
	data := pterm.TableData{{"Name", "Peer ID", "Address", "Last seen"}}
	for _, p := range peers {
		data = append(data, []string{p.Name, short(p.ID, 8), p.Address, time.Since(p.LastSeen).Round(time.Second).String() + " ago"})
	}
	d.table(data, true)
}

func (d *display) proposals(proposals []voting.Summary) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(proposals) == 0 {
		d.info("No proposals")
		return
	}
	d.table(proposalTable(proposals), true)
}

func (d *display) status(st node.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	security := pterm.LightYellow(st.Security)
	if st.SecureOnly {
		security = pterm.LightGreen(st.Security)
	}
	d.table(pterm.TableData{
		{"Name", st.Name},
		{"Peer ID", st.PeerID},
		{"Address", st.Address},
		{"Security", security},
		{"Activated by", nameOr(st.ActivatedBy, "-")},
		{"Peers", strconv.Itoa(st.Peers)},
		{"Approvals required", fmt.Sprintf("%d of %d", st.Required, st.NetworkSize)},
		{"Known keys", strconv.Itoa(st.KnownKeys)},
		{"Proposals", strconv.Itoa(len(st.Proposals))},
	}, false)
}

func (d *display) crypto(st node.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info("Public key: %s", st.Fingerprint)
	d.info("Known peer keys: %d", st.KnownKeys)
}

func (d *display) goodbye() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info("Goodbye")
}

func proposalTable(proposals []voting.Summary) pterm.TableData {
	data := pterm.TableData{{"ID", "Description", "Proposer", "State", "Approvals", "Rejections"}}
	for _, p := range proposals {
		state := p.State.String()
		if p.Inert {
			state = "inert"
		}
		data = append(data, []string{
			p.ID, p.Description, short(p.ProposerID, 8), state,
			fmt.Sprintf("%d/%d", p.Tally.Approvals, p.Tally.Required),
			strconv.Itoa(p.Tally.Rejections),
		})
	}
	return data
}

func clock(ts int64) string {
	return pterm.Gray(time.Unix(ts, 0).Format("15:04:05"))
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func nameOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
