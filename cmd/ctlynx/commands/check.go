package commands

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	ctx509 "github.com/google/certificate-transparency-go/x509"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/net/idna"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/ctlynx/internal/ctengine"
	"github.com/bl4ck0w1/ctlynx/internal/logstore"
	"github.com/bl4ck0w1/ctlynx/internal/serialization"
	"github.com/bl4ck0w1/ctlynx/internal/storage"
	"github.com/bl4ck0w1/ctlynx/pkg/models"
	"github.com/bl4ck0w1/ctlynx/pkg/utils"
)

func NewCheckCommand(toolVersion string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [host[:port]...]",
		Short: "Check CT compliance of live hosts or local certificates",
		Long: `Connect to each target over TLS, collect the SCTs delivered with the
handshake (embedded, TLS extension and stapled OCSP), verify them against
the known CT logs and evaluate the compliance policy.

With --cert the check runs against a local PEM certificate instead of a
live host; only embedded SCTs are available in that mode.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), args, toolVersion)
		},
	}

	cmd.Flags().StringP("port", "p", "443", "Default port for targets without one")
	cmd.Flags().StringP("timeout", "t", "10s", "Per-target dial timeout")
	cmd.Flags().IntP("concurrency", "n", 4, "Concurrent target checks")
	cmd.Flags().String("cert", "", "PEM certificate (or chain) to check instead of dialing")
	cmd.Flags().String("issuer", "", "PEM issuer certificate, for --cert leaves without a chain")
	cmd.Flags().String("log-list", "", "Load the CT log list from a local JSON file")
	cmd.Flags().String("log-list-url", "", "Fetch the CT log list from this URL")
	cmd.Flags().BoolP("save", "s", false, "Save a JSON report per target")
	cmd.Flags().Bool("strict", false, "Exit non-zero unless every target complies")
	cmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address for the duration of the run")

	_ = viper.BindPFlag("check.port", cmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("check.timeout", cmd.Flags().Lookup("timeout"))
	_ = viper.BindPFlag("check.concurrency", cmd.Flags().Lookup("concurrency"))
	_ = viper.BindPFlag("check.cert", cmd.Flags().Lookup("cert"))
	_ = viper.BindPFlag("check.issuer", cmd.Flags().Lookup("issuer"))
	_ = viper.BindPFlag("check.log_list", cmd.Flags().Lookup("log-list"))
	_ = viper.BindPFlag("check.log_list_url", cmd.Flags().Lookup("log-list-url"))
	_ = viper.BindPFlag("check.save", cmd.Flags().Lookup("save"))
	_ = viper.BindPFlag("check.strict", cmd.Flags().Lookup("strict"))
	_ = viper.BindPFlag("check.metrics_addr", cmd.Flags().Lookup("metrics-addr"))

	return cmd
}

func runCheck(ctx context.Context, targets []string, toolVersion string) error {
	certPath := viper.GetString("check.cert")
	if certPath == "" && len(targets) == 0 {
		return fmt.Errorf("no targets given; pass hosts or --cert")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	store, err := loadStore(ctx)
	if err != nil {
		return err
	}
	holder := logstore.NewHolder(store)

	metrics := utils.NewMetricsCollector(false)
	engine := ctengine.New(holder, ctengine.NewMetricsReporter(metrics), logrus.StandardLogger())

	if addr := viper.GetString("check.metrics_addr"); addr != "" {
		mctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.StartServerWithContext(mctx, addr); err != nil {
				logrus.Warnf("Metrics server: %v", err)
			}
		}()
	}

	var reports *storage.ReportStore
	if viper.GetBool("check.save") {
		retention, _ := time.ParseDuration(viper.GetString("report_retention"))
		reports, err = storage.NewReportStore(
			viper.GetString("report_directory"),
			viper.GetBool("report_compression"),
			retention,
			logrus.StandardLogger(),
		)
		if err != nil {
			return fmt.Errorf("open report store: %w", err)
		}
	}

	if certPath != "" {
		report, err := checkPEM(engine, certPath, viper.GetString("check.issuer"), toolVersion, metrics)
		if err != nil {
			return err
		}
		printReport(report)
		if err := persist(reports, report); err != nil {
			return err
		}
		if viper.GetBool("check.strict") && report.Compliance != models.PolicyComply {
			return fmt.Errorf("certificate does not comply: %s", report.Compliance)
		}
		return nil
	}

	timeout, err := time.ParseDuration(viper.GetString("check.timeout"))
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	var (
		mu       sync.Mutex
		failures int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(viper.GetInt("check.concurrency"))

	for _, target := range targets {
		target := target
		g.Go(func() error {
			report, err := checkHost(gctx, engine, target, timeout, toolVersion, metrics)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				fmt.Printf("✗ %s: %v\n", target, err)
				logrus.WithField("target", target).Warnf("Check failed: %v", err)
				return nil
			}
			printReport(report)
			if report.Compliance != models.PolicyComply {
				failures++
			}
			return persist(reports, report)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if viper.GetBool("check.strict") && failures > 0 {
		return fmt.Errorf("%d of %d targets failed CT compliance", failures, len(targets))
	}
	return nil
}

// loadStore reads the log list from a local file when configured, otherwise
// fetches the published list.
func loadStore(ctx context.Context) (*logstore.Store, error) {
	if path := firstNonEmpty(viper.GetString("check.log_list"), viper.GetString("log_list_file")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read log list: %w", err)
		}
		return logstore.Load(data, logrus.StandardLogger())
	}

	url := firstNonEmpty(viper.GetString("check.log_list_url"), viper.GetString("log_list_url"))
	updater := logstore.NewUpdater(url, nil, logrus.StandardLogger())

	var store *logstore.Store
	err := utils.RetryWithContext(ctx, 3, 2*time.Second, func() error {
		var err error
		store, err = updater.Refresh(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch log list: %w", err)
	}
	return store, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// checkHost dials the target, collects the handshake carriers and runs the
// engine over them.
func checkHost(ctx context.Context, engine *ctengine.Engine, target string, timeout time.Duration, toolVersion string, metrics *utils.MetricsCollector) (*models.CheckReport, error) {
	started := time.Now()

	host, port := utils.HostPort(target, viper.GetString("check.port"))
	asciiHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		// IP literals fail IDNA mapping; dial them as given.
		asciiHost = host
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config: &tls.Config{
			ServerName: asciiHost,
			// Chain trust is the platform verifier's concern; CT compliance
			// is evaluated even for otherwise untrusted chains.
			InsecureSkipVerify: true,
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(asciiHost, port))
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no peer certificates presented")
	}

	chain := make([]*ctx509.Certificate, 0, len(state.PeerCertificates))
	for _, cert := range state.PeerCertificates {
		parsed, err := ctx509.ParseCertificate(cert.Raw)
		if err != nil && ctx509.IsFatal(err) {
			return nil, fmt.Errorf("reparse peer certificate: %w", err)
		}
		chain = append(chain, parsed)
	}

	var tlsData []byte
	if len(state.SignedCertificateTimestamps) > 0 {
		tlsData, err = serialization.EncodeSCTList(state.SignedCertificateTimestamps)
		if err != nil {
			return nil, fmt.Errorf("rebuild TLS SCT list: %w", err)
		}
	}

	result, compliance, err := engine.CheckCertificateTransparency(chain, tlsData, state.OCSPResponse, time.Now())
	if err != nil {
		return nil, err
	}

	metrics.ObserveCheckDuration("network", time.Since(started))
	return buildReport(target, chain, result, compliance, engine.StoreState(), toolVersion), nil
}

// checkPEM evaluates a local certificate; only embedded SCTs can be found
// without a handshake.
func checkPEM(engine *ctengine.Engine, certPath, issuerPath, toolVersion string, metrics *utils.MetricsCollector) (*models.CheckReport, error) {
	started := time.Now()

	chain, err := readPEMCertificates(certPath)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no certificates in %s", certPath)
	}

	if issuerPath != "" {
		issuers, err := readPEMCertificates(issuerPath)
		if err != nil {
			return nil, err
		}
		chain = append(chain[:1], issuers...)
	}

	result, compliance, err := engine.CheckCertificateTransparency(chain, nil, nil, time.Now())
	if err != nil {
		return nil, err
	}

	metrics.ObserveCheckDuration("pem", time.Since(started))
	return buildReport(certPath, chain, result, compliance, engine.StoreState(), toolVersion), nil
}

func readPEMCertificates(path string) ([]*ctx509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var certs []*ctx509.Certificate
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := ctx509.ParseCertificate(block.Bytes)
		if err != nil && ctx509.IsFatal(err) {
			return nil, fmt.Errorf("parse certificate in %s: %w", path, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func buildReport(target string, chain []*ctx509.Certificate, result *models.VerificationResult, compliance models.PolicyCompliance, storeState models.StoreState, toolVersion string) *models.CheckReport {
	leaf := chain[0]
	fingerprint := sha256.Sum256(leaf.Raw)

	report := &models.CheckReport{
		Target:      target,
		CheckedAt:   time.Now().UTC(),
		ToolVersion: toolVersion,
		ChainLength: len(chain),
		Compliance:  compliance,
		StoreState:  storeState,
		Leaf: models.CertificateInfo{
			Subject:      leaf.Subject.String(),
			Issuer:       leaf.Issuer.String(),
			SerialNumber: leaf.SerialNumber.String(),
			NotBefore:    leaf.NotBefore,
			NotAfter:     leaf.NotAfter,
			SHA256:       hex.EncodeToString(fingerprint[:]),
		},
	}
	for _, v := range result.Valid() {
		report.ValidSCTs = append(report.ValidSCTs, models.NewSCTRecord(v))
	}
	for _, v := range result.Invalid() {
		report.InvalidSCTs = append(report.InvalidSCTs, models.NewSCTRecord(v))
	}
	return report
}

func persist(reports *storage.ReportStore, report *models.CheckReport) error {
	if reports == nil {
		return nil
	}
	path, err := reports.Save(report)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	fmt.Printf("  report: %s\n", path)
	return nil
}

func printReport(r *models.CheckReport) {
	mark := "✗"
	if r.Compliance == models.PolicyComply {
		mark = "✓"
	}
	fmt.Printf("%s %s: %s (store: %s)\n", mark, r.Target, r.Compliance, r.StoreState)
	fmt.Printf("  subject: %s\n", r.Leaf.Subject)
	fmt.Printf("  scts:    %d valid, %d invalid\n", len(r.ValidSCTs), len(r.InvalidSCTs))
	for _, s := range r.ValidSCTs {
		fmt.Printf("    [%s] %s  %s (%s)\n", s.Origin, s.Status, s.Description, s.Operator)
	}
	for _, s := range r.InvalidSCTs {
		desc := s.Description
		if desc == "" {
			desc = s.LogID
		}
		fmt.Printf("    [%s] %s  %s\n", s.Origin, s.Status, desc)
	}
}
