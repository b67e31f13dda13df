package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/accordsai/courtlane/pkg/courtsdk"
	"github.com/accordsai/courtlane/pkg/signature"
)

const usage = `usage:
  courtctl investigation start --case-id <n> --duration <dur>
  courtctl investigation show --id <n>
  courtctl investigation authorize --id <n> --participant <identity>
  courtctl investigation complete|timeout|archive --id <n>
  courtctl evidence submit --investigation <n> --type <0-4> --level <n> --stake <n>
  courtctl evidence show --investigation <n> --id <n>
  courtctl evidence refund --investigation <n> --id <n>
  courtctl evidence verify --investigation <n> --id <n>
  courtctl witness submit --investigation <n> --score <0-100> --testimony <n> --stake <n>
  courtctl witness show --investigation <n> --id <n>
  courtctl witness refund --investigation <n> --id <n>
  courtctl verdict submit --investigation <n> --verdict <0-2> --confidence <0-100> --weight <n>
  courtctl decryption request --investigation <n> --evidence <n>
  courtctl decryption show --id <n>
  courtctl decryption pending
  courtctl events tail
  courtctl oracle keygen --out <path> --public-out <path>

server commands read COURTLANE_URL and COURTLANE_TOKEN unless --url/--token are given`

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1] + " " + os.Args[2]
	args := os.Args[3:]
	switch cmd {
	case "investigation start":
		runInvestigationStart(args)
	case "investigation show":
		runInvestigationShow(args)
	case "investigation authorize":
		runInvestigationAuthorize(args)
	case "investigation complete", "investigation timeout", "investigation archive":
		runInvestigationTransition(cmd, args)
	case "evidence submit":
		runEvidenceSubmit(args)
	case "evidence show":
		runEvidenceShow(args)
	case "evidence refund":
		runEvidenceRefund(args)
	case "evidence verify":
		runEvidenceVerify(args)
	case "witness submit":
		runWitnessSubmit(args)
	case "witness show":
		runWitnessShow(args)
	case "witness refund":
		runWitnessRefund(args)
	case "verdict submit":
		runVerdictSubmit(args)
	case "decryption request":
		runDecryptionRequest(args)
	case "decryption show":
		runDecryptionShow(args)
	case "decryption pending":
		runDecryptionPending(args)
	case "events tail":
		runEventsTail(args)
	case "oracle keygen":
		runOracleKeygen(args)
	default:
		fail(cmd, "unknown command\n"+usage)
		os.Exit(2)
	}
}

type serverFlags struct {
	url   *string
	token *string
	key   *string
}

func newFlagSet(name string) (*flag.FlagSet, serverFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs, serverFlags{
		url:   fs.String("url", envDefault("COURTLANE_URL", "http://localhost:8090"), "custody service base url"),
		token: fs.String("token", os.Getenv("COURTLANE_TOKEN"), "bearer token"),
		key:   fs.String("idempotency-key", "", "Idempotency-Key header for mutating calls"),
	}
}

func (s serverFlags) client() *courtsdk.Client {
	return courtsdk.New(strings.TrimSpace(*s.url), strings.TrimSpace(*s.token))
}

func parse(name string, fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		fail(name, err.Error())
		os.Exit(2)
	}
}

func require(name string, ok bool, msg string) {
	if !ok {
		fail(name, msg)
		os.Exit(2)
	}
}

func runInvestigationStart(args []string) {
	const name = "investigation start"
	fs, sf := newFlagSet(name)
	caseID := fs.Uint64("case-id", 0, "case identifier, encrypted on submit")
	duration := fs.Duration("duration", 7*24*time.Hour, "investigation duration")
	parse(name, fs, args)
	require(name, *duration > 0, "--duration must be positive")

	res, err := sf.client().StartInvestigation(context.Background(), courtsdk.StartInvestigationRequest{
		CaseID:          *caseID,
		DurationSeconds: uint64(duration.Seconds()),
	}, *sf.key)
	finish(name, res, err)
}

func runInvestigationShow(args []string) {
	const name = "investigation show"
	fs, sf := newFlagSet(name)
	id := fs.Uint64("id", 0, "investigation id")
	parse(name, fs, args)
	require(name, *id > 0, "--id is required")

	res, err := sf.client().Investigation(context.Background(), *id)
	finish(name, res, err)
}

func runInvestigationAuthorize(args []string) {
	const name = "investigation authorize"
	fs, sf := newFlagSet(name)
	id := fs.Uint64("id", 0, "investigation id")
	participant := fs.String("participant", "", "identity to authorize")
	parse(name, fs, args)
	require(name, *id > 0, "--id is required")
	require(name, strings.TrimSpace(*participant) != "", "--participant is required")

	res, err := sf.client().AuthorizeParticipant(context.Background(), *id, strings.TrimSpace(*participant), *sf.key)
	finish(name, res, err)
}

func runInvestigationTransition(name string, args []string) {
	fs, sf := newFlagSet(name)
	id := fs.Uint64("id", 0, "investigation id")
	parse(name, fs, args)
	require(name, *id > 0, "--id is required")

	c := sf.client()
	ctx := context.Background()
	var (
		res *courtsdk.InvestigationResponse
		err error
	)
	switch name {
	case "investigation complete":
		res, err = c.CompleteInvestigation(ctx, *id, *sf.key)
	case "investigation timeout":
		res, err = c.HandleTimeout(ctx, *id, *sf.key)
	default:
		res, err = c.ArchiveInvestigation(ctx, *id, *sf.key)
	}
	finish(name, res, err)
}

func runEvidenceSubmit(args []string) {
	const name = "evidence submit"
	fs, sf := newFlagSet(name)
	invID := fs.Uint64("investigation", 0, "investigation id")
	typ := fs.Uint("type", 0, "evidence type: 0 document, 1 physical, 2 digital, 3 forensic, 4 testimonial")
	level := fs.Uint64("level", 0, "confidentiality level")
	stakeAmt := fs.Uint64("stake", 0, "stake amount")
	parse(name, fs, args)
	require(name, *invID > 0, "--investigation is required")
	require(name, *typ <= 4, "--type must be between 0 and 4")
	require(name, *stakeAmt > 0, "--stake must be positive")

	res, err := sf.client().SubmitEvidence(context.Background(), *invID, courtsdk.SubmitEvidenceRequest{
		Type:                 uint8(*typ),
		ConfidentialityLevel: *level,
		Stake:                *stakeAmt,
	}, *sf.key)
	finish(name, res, err)
}

func runEvidenceShow(args []string) {
	const name = "evidence show"
	fs, sf := newFlagSet(name)
	invID := fs.Uint64("investigation", 0, "investigation id")
	evID := fs.Uint64("id", 0, "evidence id")
	parse(name, fs, args)
	require(name, *invID > 0 && *evID > 0, "--investigation and --id are required")

	res, err := sf.client().Evidence(context.Background(), *invID, *evID)
	finish(name, res, err)
}

func runEvidenceRefund(args []string) {
	const name = "evidence refund"
	fs, sf := newFlagSet(name)
	invID := fs.Uint64("investigation", 0, "investigation id")
	evID := fs.Uint64("id", 0, "evidence id")
	parse(name, fs, args)
	require(name, *invID > 0 && *evID > 0, "--investigation and --id are required")

	res, err := sf.client().EvidenceRefund(context.Background(), *invID, *evID, *sf.key)
	finish(name, res, err)
}

func runEvidenceVerify(args []string) {
	const name = "evidence verify"
	fs, sf := newFlagSet(name)
	invID := fs.Uint64("investigation", 0, "investigation id")
	evID := fs.Uint64("id", 0, "evidence id")
	parse(name, fs, args)
	require(name, *invID > 0 && *evID > 0, "--investigation and --id are required")

	err := sf.client().VerifyEvidence(context.Background(), *invID, *evID, *sf.key)
	finish(name, map[string]any{"investigation_id": *invID, "evidence_id": *evID, "verified": err == nil}, err)
}

func runWitnessSubmit(args []string) {
	const name = "witness submit"
	fs, sf := newFlagSet(name)
	invID := fs.Uint64("investigation", 0, "investigation id")
	score := fs.Uint64("score", 0, "credibility score, 0 to 100")
	testimony := fs.Uint64("testimony", 0, "testimony digest")
	stakeAmt := fs.Uint64("stake", 0, "stake amount")
	parse(name, fs, args)
	require(name, *invID > 0, "--investigation is required")
	require(name, *score <= 100, "--score must be at most 100")
	require(name, *stakeAmt > 0, "--stake must be positive")

	res, err := sf.client().SubmitWitness(context.Background(), *invID, courtsdk.SubmitWitnessRequest{
		CredibilityScore: *score,
		TestimonyDigest:  *testimony,
		Stake:            *stakeAmt,
	}, *sf.key)
	finish(name, res, err)
}

func runWitnessShow(args []string) {
	const name = "witness show"
	fs, sf := newFlagSet(name)
	invID := fs.Uint64("investigation", 0, "investigation id")
	witID := fs.Uint64("id", 0, "witness id")
	parse(name, fs, args)
	require(name, *invID > 0 && *witID > 0, "--investigation and --id are required")

	res, err := sf.client().Witness(context.Background(), *invID, *witID)
	finish(name, res, err)
}

func runWitnessRefund(args []string) {
	const name = "witness refund"
	fs, sf := newFlagSet(name)
	invID := fs.Uint64("investigation", 0, "investigation id")
	witID := fs.Uint64("id", 0, "witness id")
	parse(name, fs, args)
	require(name, *invID > 0 && *witID > 0, "--investigation and --id are required")

	res, err := sf.client().WitnessRefund(context.Background(), *invID, *witID, *sf.key)
	finish(name, res, err)
}

// runVerdictSubmit seals the weight as the calling judge, then submits the
// verdict with the returned handle and proof.
func runVerdictSubmit(args []string) {
	const name = "verdict submit"
	fs, sf := newFlagSet(name)
	invID := fs.Uint64("investigation", 0, "investigation id")
	verdict := fs.Uint("verdict", 0, "0 guilty, 1 not guilty, 2 inconclusive")
	confidence := fs.Uint64("confidence", 0, "confidence, 0 to 100")
	weight := fs.Uint64("weight", 1, "verdict weight")
	parse(name, fs, args)
	require(name, *invID > 0, "--investigation is required")
	require(name, *verdict <= 2, "--verdict must be between 0 and 2")
	require(name, *confidence <= 100, "--confidence must be at most 100")

	c := sf.client()
	ctx := context.Background()
	in, err := c.EncryptInput(ctx, *weight)
	if err != nil {
		finish(name, nil, err)
	}
	res, err := c.SubmitVerdict(ctx, *invID, courtsdk.SubmitVerdictRequest{
		Verdict:      uint8(*verdict),
		Confidence:   *confidence,
		WeightHandle: in.Handle,
		WeightProof:  in.Proof,
	}, *sf.key)
	finish(name, res, err)
}

func runDecryptionRequest(args []string) {
	const name = "decryption request"
	fs, sf := newFlagSet(name)
	invID := fs.Uint64("investigation", 0, "investigation id")
	evID := fs.Uint64("evidence", 0, "evidence id")
	parse(name, fs, args)
	require(name, *invID > 0 && *evID > 0, "--investigation and --evidence are required")

	res, err := sf.client().RequestDecryption(context.Background(), *invID, *evID, *sf.key)
	finish(name, res, err)
}

func runDecryptionShow(args []string) {
	const name = "decryption show"
	fs, sf := newFlagSet(name)
	id := fs.Uint64("id", 0, "decryption request id")
	parse(name, fs, args)
	require(name, *id > 0, "--id is required")

	res, err := sf.client().Decryption(context.Background(), *id)
	finish(name, res, err)
}

func runDecryptionPending(args []string) {
	const name = "decryption pending"
	fs, sf := newFlagSet(name)
	parse(name, fs, args)

	ids, err := sf.client().PendingDecryptions(context.Background())
	finish(name, map[string]any{"pending": ids}, err)
}

func runEventsTail(args []string) {
	const name = "events tail"
	fs, sf := newFlagSet(name)
	parse(name, fs, args)

	c := sf.client()
	wsURL, err := c.EventsURL()
	if err != nil {
		fail(name, err.Error())
		os.Exit(1)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, c.AuthHeader())
	if err != nil {
		fail(name, "dial "+wsURL+": "+err.Error())
		os.Exit(1)
	}
	defer conn.Close()
	color.Green("connected to %s", wsURL)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			fmt.Println(string(msg))
		}
	}()

	select {
	case err := <-done:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return
		}
		fail(name, err.Error())
		os.Exit(1)
	case <-interrupt:
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

func runOracleKeygen(args []string) {
	const name = "oracle keygen"
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	outPath := fs.String("out", "", "path to write the private signing keyset")
	pubPath := fs.String("public-out", "", "path to write the public keyset")
	parse(name, fs, args)
	require(name, strings.TrimSpace(*outPath) != "" && strings.TrimSpace(*pubPath) != "", "both --out and --public-out are required")

	h, err := signature.GenerateKeyset()
	if err != nil {
		fail(name, err.Error())
		os.Exit(1)
	}
	if err := writeFile(*outPath, 0o600, func(f *os.File) error { return signature.WritePrivateKeyset(h, f) }); err != nil {
		fail(name, "write private keyset failed: "+err.Error())
		os.Exit(1)
	}
	if err := writeFile(*pubPath, 0o644, func(f *os.File) error { return signature.WritePublicKeyset(h, f) }); err != nil {
		fail(name, "write public keyset failed: "+err.Error())
		os.Exit(1)
	}
	pass(name, map[string]any{"keyset_path": *outPath, "public_keyset_path": *pubPath})
}

func writeFile(path string, mode os.FileMode, write func(*os.File) error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func finish(name string, res any, err error) {
	if err != nil {
		var apiErr *courtsdk.APIError
		if errors.As(err, &apiErr) {
			fail(name, apiErr.Code+": "+apiErr.Message)
		} else {
			fail(name, err.Error())
		}
		os.Exit(1)
	}
	pass(name, res)
}

func pass(name string, result any) {
	color.New(color.FgGreen).Fprintf(os.Stderr, "PASS %s\n", name)
	printSummary(map[string]any{"command": name, "status": "PASS", "result": result})
}

func fail(name, reason string) {
	color.New(color.FgRed).Fprintf(os.Stderr, "FAIL %s\n", name)
	printSummary(map[string]any{"command": name, "status": "FAIL", "reason": reason})
}

func printSummary(v map[string]any) {
	v["timestamp_utc"] = time.Now().UTC().Format(time.RFC3339)
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
