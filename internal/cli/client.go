package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syncup/otpgate/internal/cli/ui"
)

const defaultGatewayURL = "http://127.0.0.1:8090"

var requestCmd = &cobra.Command{
	Use:   "request <phone>",
	Short: "Ask a running gateway to send a code",
	Long: `Send a code to an E.164 phone number through a running gateway.
Useful as a smoke test after deploying.

Example:
  otpgate request +15555550100 --url https://otp.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGatewayCall(cmd, "/functions/v1/send-otp", map[string]string{"phone": args[0]})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <phone> <code>",
	Short: "Ask a running gateway to check a code",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGatewayCall(cmd, "/functions/v1/verify-otp", map[string]string{"phone": args[0], "code": args[1]})
	},
}

func init() {
	for _, c := range []*cobra.Command{requestCmd, checkCmd} {
		c.Flags().String("url", "", "Gateway base URL (default $OTPGATE_URL or "+defaultGatewayURL+")")
		c.Flags().String("token", "", "Caller JWT (default $OTPGATE_TOKEN)")
	}
}

// gatewayResponse mirrors the fields the gateway returns.
type gatewayResponse struct {
	Success bool   `json:"success"`
	Valid   *bool  `json:"valid"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Status  string `json:"status"`
}

func gatewayURL(cmd *cobra.Command) string {
	if v, _ := cmd.Flags().GetString("url"); v != "" {
		return strings.TrimRight(v, "/")
	}
	if v := os.Getenv("OTPGATE_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return defaultGatewayURL
}

func runGatewayCall(cmd *cobra.Command, path string, payload map[string]string) error {
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("OTPGATE_TOKEN")
	}

	useColor := colorEnabled()
	var sp *ui.StepSpinner
	if useColor && !jsonOutput(cmd) {
		sp = ui.NewStepSpinner(cmd.ErrOrStderr(), false)
		sp.Start("Contacting " + gatewayURL(cmd) + "...")
	}
	status, raw, err := postGateway(gatewayURL(cmd)+path, token, payload)
	if sp != nil {
		if err != nil {
			sp.Fail()
		} else {
			sp.Done()
		}
	}
	if err != nil {
		return err
	}

	var resp gatewayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("gateway returned HTTP %d with a non-JSON body", status)
	}

	if jsonOutput(cmd) {
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(raw)))
	} else {
		printGatewayResult(cmd.OutOrStdout(), status, resp, useColor)
	}
	if !resp.Success {
		return fmt.Errorf("gateway rejected the request (HTTP %d, %s)", status, resp.Error)
	}
	return nil
}

func postGateway(endpoint, token string, payload map[string]string) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := cliHTTPClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("connecting to gateway: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func printGatewayResult(w io.Writer, status int, resp gatewayResponse, useColor bool) {
	if resp.Success {
		fmt.Fprintf(w, "%s %s\n", green(ui.SymbolCheck, useColor), resp.Message)
	} else {
		fmt.Fprintf(w, "%s %s\n", red(ui.SymbolCross, useColor), resp.Message)
	}

	details := []string{fmt.Sprintf("HTTP %d", status)}
	if resp.Status != "" {
		details = append(details, "status="+resp.Status)
	}
	if resp.Valid != nil {
		details = append(details, fmt.Sprintf("valid=%t", *resp.Valid))
	}
	if resp.Error != "" {
		details = append(details, "error="+resp.Error)
	}
	if resp.Code != 0 {
		details = append(details, fmt.Sprintf("code=%d", resp.Code))
	}
	fmt.Fprintf(w, "  %s\n", dim(strings.Join(details, "  "), useColor))
}
