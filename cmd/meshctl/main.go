// Command meshctl queries a node's inspect server and prints its peers,
// proposals or status.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"

	"github.com/VanDung-dev/HieraMesh/hieramesh/api"
	"github.com/VanDung-dev/HieraMesh/hieramesh/data"
	"github.com/VanDung-dev/HieraMesh/hieramesh/node"
	"github.com/VanDung-dev/HieraMesh/hieramesh/voting"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("MESH_INSPECT_ADDR", "127.0.0.1:9090"), "inspect server address")
	token := flag.String("token", os.Getenv("MESH_INSPECT_TOKEN"), "inspect token")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] peers|proposals|status\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, *addr, *token, flag.Arg(0)); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, token, what string) error {
	client, err := api.Dial(ctx, addr, token)
	if err != nil {
		return err
	}
	defer client.Close()

	switch what {
	case api.RequestPeers:
		peers, err := client.Peers(ctx)
		if err != nil {
			return err
		}
		return pterm.DefaultTable.WithHasHeader().WithData(peerTable(peers)).Render()
	case api.RequestProposals:
		proposals, err := client.Proposals(ctx)
		if err != nil {
			return err
		}
		return pterm.DefaultTable.WithHasHeader().WithData(proposalTable(proposals)).Render()
	case api.RequestStatus:
		st, err := client.Status(ctx)
		if err != nil {
			return err
		}
		return pterm.DefaultTable.WithData(statusTable(st)).Render()
	default:
		return fmt.Errorf("unknown query %q", what)
	}
}

func peerTable(peers []data.PeerRow) pterm.TableData {
	rows := pterm.TableData{{"Name", "Peer ID", "Address", "Last seen", "Key"}}
	for _, p := range peers {
		key := p.Fingerprint
		if len(key) > 16 {
			key = key[:16]
		}
		rows = append(rows, []string{p.Name, p.ID, p.Address, p.LastSeen.Format(time.RFC3339), key})
	}
	return rows
}

func proposalTable(proposals []voting.Summary) pterm.TableData {
	rows := pterm.TableData{{"ID", "Description", "Proposer", "State", "Approvals", "Rejections", "Voters"}}
	for _, p := range proposals {
		state := p.State.String()
		if p.Inert {
			state = "inert"
		}
		rows = append(rows, []string{
			p.ID, p.Description, p.ProposerID, state,
			fmt.Sprintf("%d/%d", p.Tally.Approvals, p.Tally.Required),
			strconv.Itoa(p.Tally.Rejections),
			strconv.Itoa(len(p.Votes)),
		})
	}
	return rows
}

func statusTable(st node.Status) pterm.TableData {
	activated := st.ActivatedBy
	if activated == "" {
		activated = "-"
	}
	return pterm.TableData{
		{"Name", st.Name},
		{"Peer ID", st.PeerID},
		{"Address", st.Address},
		{"Security", st.Security},
		{"Activated by", activated},
		{"Peers", strconv.Itoa(st.Peers)},
		{"Approvals required", fmt.Sprintf("%d of %d", st.Required, st.NetworkSize)},
		{"Known keys", strconv.Itoa(st.KnownKeys)},
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
