package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"kleolend/crypto"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("KLEOLEND_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	rpcEndpoint = defaultRPCEndpoint()
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		generateKey()
	case "stars":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		getStars(args[1])
	case "record":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		getRecord(args[1])
	case "can-vouch":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		canVouch(args[1])
	case "deposit":
		if len(args) < 3 {
			fmt.Println("Usage: deposit <address> <amount>")
			return
		}
		poolDeposit(args[1], args[2])
	case "withdraw":
		if len(args) < 3 {
			fmt.Println("Usage: withdraw <address> <amount>")
			return
		}
		poolWithdraw(args[1], args[2])
	case "position":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		poolPosition(args[1])
	case "pool-state":
		poolState()
	case "rate":
		poolRate()
	case "request-loan":
		if len(args) < 3 {
			fmt.Println("Usage: request-loan <borrower> <amount> [termSeconds]")
			return
		}
		term := int64(0)
		if len(args) >= 4 {
			term, err = strconv.ParseInt(args[3], 10, 64)
			if err != nil {
				fmt.Println("Error: Invalid term duration.")
				return
			}
		}
		requestLoan(args[1], args[2], term)
	case "vouch":
		if len(args) < 5 {
			fmt.Println("Usage: vouch <voucher> <loanId> <stars> <capitalPercent>")
			return
		}
		loanID, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid loan id.")
			return
		}
		stars, err := strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid star amount.")
			return
		}
		capital, err := strconv.ParseUint(args[4], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid capital percent.")
			return
		}
		vouchForLoan(args[1], loanID, stars, capital)
	case "repay":
		if len(args) < 4 {
			fmt.Println("Usage: repay <borrower> <loanId> <amount>")
			return
		}
		loanID, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid loan id.")
			return
		}
		repayLoan(args[1], loanID, args[3])
	case "check-default":
		if len(args) < 2 {
			fmt.Println("Usage: check-default <loanId>")
			return
		}
		loanID, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid loan id.")
			return
		}
		checkDefault(loanID)
	case "loan":
		if len(args) < 2 {
			fmt.Println("Usage: loan <loanId>")
			return
		}
		loanID, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid loan id.")
			return
		}
		getLoan(loanID)
	case "repayment-amount":
		if len(args) < 2 {
			fmt.Println("Usage: repayment-amount <loanId>")
			return
		}
		loanID, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid loan id.")
			return
		}
		repaymentAmount(loanID)
	case "pending":
		listLoans("lend_listPending", "Pending")
	case "active":
		listLoans("lend_listActive", "Active")
	case "vouches":
		if len(args) < 2 {
			fmt.Println("Usage: vouches <loanId>")
			return
		}
		loanID, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid loan id.")
			return
		}
		vouchesForLoan(loanID)
	case "exposure":
		if len(args) < 2 {
			fmt.Println("Usage: exposure <voucher>")
			return
		}
		getExposure(args[1])
	case "set-stars":
		if len(args) < 3 {
			fmt.Println("Usage: set-stars <address> <stars> (requires KLEOLEND_RPC_TOKEN)")
			return
		}
		stars, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid star amount.")
			return
		}
		adminSetStars(args[1], stars)
	case "unban":
		if len(args) < 2 {
			fmt.Println("Usage: unban <address> (requires KLEOLEND_RPC_TOKEN)")
			return
		}
		adminUnban(args[1])
	case "pause":
		if len(args) < 2 {
			fmt.Println("Usage: pause <module> (requires KLEOLEND_RPC_TOKEN)")
			return
		}
		setPaused(args[1], true)
	case "resume":
		if len(args) < 2 {
			fmt.Println("Usage: resume <module> (requires KLEOLEND_RPC_TOKEN)")
			return
		}
		setPaused(args[1], false)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}

	fileName := "wallet.key"
	if err := os.WriteFile(fileName, key.Bytes(), 0600); err != nil {
		panic(fmt.Sprintf("Failed to save key to %s: %v", fileName, err))
	}

	fmt.Printf("Generated new key and saved to %s\n", fileName)
	fmt.Printf("Your public address is: %s\n", key.PubKey().Address().String())
	fmt.Println("Store this file securely.")
}

// --- REPUTATION COMMANDS ---

func getStars(addr string) {
	result, err := callRPC("rep_getStars", map[string]interface{}{"account": addr}, false)
	if err != nil {
		fmt.Printf("Error fetching stars: %v\n", err)
		return
	}
	var out struct {
		Account string `json:"account"`
		Stars   uint64 `json:"stars"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Printf("Stars for %s: %d\n", out.Account, out.Stars)
}

func getRecord(addr string) {
	result, err := callRPC("rep_getRecord", map[string]interface{}{"account": addr}, false)
	if err != nil {
		fmt.Printf("Error fetching record: %v\n", err)
		return
	}
	var out struct {
		Account     string `json:"account"`
		Stars       uint64 `json:"stars"`
		StakedStars uint64 `json:"stakedStars"`
		Banned      bool   `json:"banned"`
		FirstSeen   int64  `json:"firstSeen"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Printf("Reputation for: %s\n", out.Account)
	fmt.Printf("  Stars:        %d\n", out.Stars)
	fmt.Printf("  Staked Stars: %d\n", out.StakedStars)
	fmt.Printf("  Banned:       %t\n", out.Banned)
	if out.FirstSeen > 0 {
		fmt.Printf("  First Seen:   %s\n", time.Unix(out.FirstSeen, 0).UTC().Format(time.RFC3339))
	}
}

func canVouch(addr string) {
	result, err := callRPC("rep_canVouch", map[string]interface{}{"account": addr}, false)
	if err != nil {
		fmt.Printf("Error checking eligibility: %v\n", err)
		return
	}
	var out struct {
		Account  string `json:"account"`
		CanVouch bool   `json:"canVouch"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Printf("%s can vouch: %t\n", out.Account, out.CanVouch)
}

func adminSetStars(addr string, stars uint64) {
	_, err := callRPC("rep_adminSetStars", map[string]interface{}{"account": addr, "stars": stars}, true)
	if err != nil {
		fmt.Printf("Error setting stars: %v\n", err)
		return
	}
	fmt.Printf("Set stars for %s to %d.\n", addr, stars)
}

func adminUnban(addr string) {
	_, err := callRPC("rep_adminUnban", map[string]interface{}{"account": addr}, true)
	if err != nil {
		fmt.Printf("Error unbanning account: %v\n", err)
		return
	}
	fmt.Printf("Unbanned %s.\n", addr)
}

func setPaused(module string, paused bool) {
	_, err := callRPC("admin_pauseModule", map[string]interface{}{"module": module, "paused": paused}, true)
	if err != nil {
		fmt.Printf("Error updating pause state: %v\n", err)
		return
	}
	if paused {
		fmt.Printf("Paused module %s.\n", module)
	} else {
		fmt.Printf("Resumed module %s.\n", module)
	}
}

// --- POOL COMMANDS ---

func poolDeposit(addr, amount string) {
	result, err := callRPC("pool_deposit", map[string]interface{}{"account": addr, "amount": amount}, false)
	if err != nil {
		fmt.Printf("Error depositing: %v\n", err)
		return
	}
	var out struct {
		Account  string `json:"account"`
		Credited string `json:"credited"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Printf("Deposited. Credited %s ledger units to %s.\n", out.Credited, out.Account)
}

func poolWithdraw(addr, amount string) {
	result, err := callRPC("pool_withdraw", map[string]interface{}{"account": addr, "amount": amount}, false)
	if err != nil {
		fmt.Printf("Error withdrawing: %v\n", err)
		return
	}
	var out struct {
		Account string `json:"account"`
		Payout  string `json:"payout"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Printf("Withdrew %s transfer units for %s.\n", out.Payout, out.Account)
}

func poolPosition(addr string) {
	result, err := callRPC("pool_getDeposit", map[string]interface{}{"account": addr}, false)
	if err != nil {
		fmt.Printf("Error fetching position: %v\n", err)
		return
	}
	var out struct {
		Account      string `json:"account"`
		Principal    string `json:"principal"`
		AccruedYield string `json:"accruedYield"`
		Balance      string `json:"balance"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Printf("Position for: %s\n", out.Account)
	fmt.Printf("  Principal: %s\n", out.Principal)
	fmt.Printf("  Yield:     %s\n", out.AccruedYield)
	fmt.Printf("  Balance:   %s\n", out.Balance)
}

func poolState() {
	result, err := callRPC("pool_getState", nil, false)
	if err != nil {
		fmt.Printf("Error fetching pool state: %v\n", err)
		return
	}
	var out struct {
		TotalLiquidity string `json:"totalLiquidity"`
		TotalBorrowed  string `json:"totalBorrowed"`
		Reserve        string `json:"reserve"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Println("Pool state:")
	fmt.Printf("  Liquidity: %s\n", out.TotalLiquidity)
	fmt.Printf("  Borrowed:  %s\n", out.TotalBorrowed)
	fmt.Printf("  Reserve:   %s\n", out.Reserve)
}

func poolRate() {
	result, err := callRPC("pool_getRate", nil, false)
	if err != nil {
		fmt.Printf("Error fetching rate: %v\n", err)
		return
	}
	var out struct {
		Rate string `json:"rate"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Printf("Current borrow rate: %s\n", out.Rate)
}

// --- LOAN COMMANDS ---

type loanView struct {
	ID              uint64 `json:"id"`
	Borrower        string `json:"borrower"`
	Principal       string `json:"principal"`
	InterestRate    uint64 `json:"interestRate"`
	RepaymentAmount string `json:"repaymentAmount"`
	Tier            uint8  `json:"tier"`
	RequiredVouches int    `json:"requiredVouches"`
	TermStart       int64  `json:"termStart"`
	TermDuration    int64  `json:"termDuration"`
	Status          string `json:"status"`
}

func printLoan(l loanView) {
	fmt.Printf("Loan #%d (%s)\n", l.ID, l.Status)
	fmt.Printf("  Borrower:   %s\n", l.Borrower)
	fmt.Printf("  Principal:  %s\n", l.Principal)
	fmt.Printf("  Rate:       %d\n", l.InterestRate)
	fmt.Printf("  Repayment:  %s\n", l.RepaymentAmount)
	fmt.Printf("  Tier:       %d (needs %d vouches)\n", l.Tier, l.RequiredVouches)
	if l.TermStart > 0 {
		due := time.Unix(l.TermStart+l.TermDuration, 0).UTC()
		fmt.Printf("  Due:        %s\n", due.Format(time.RFC3339))
	}
}

func requestLoan(borrower, amount string, term int64) {
	params := map[string]interface{}{"borrower": borrower, "amount": amount}
	if term > 0 {
		params["termDuration"] = term
	}
	result, err := callRPC("lend_requestLoan", params, false)
	if err != nil {
		fmt.Printf("Error requesting loan: %v\n", err)
		return
	}
	var l loanView
	if err := json.Unmarshal(result, &l); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	printLoan(l)
	fmt.Printf("Loan is pending. Gather %d vouches to activate it.\n", l.RequiredVouches)
}

func vouchForLoan(voucher string, loanID, stars, capitalPercent uint64) {
	result, err := callRPC("lend_vouch", map[string]interface{}{
		"voucher":        voucher,
		"loanId":         loanID,
		"stars":          stars,
		"capitalPercent": capitalPercent,
	}, false)
	if err != nil {
		fmt.Printf("Error vouching: %v\n", err)
		return
	}
	var l loanView
	if err := json.Unmarshal(result, &l); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Printf("Vouch recorded for loan #%d.\n", l.ID)
	printLoan(l)
}

func repayLoan(borrower string, loanID uint64, amount string) {
	result, err := callRPC("lend_repay", map[string]interface{}{
		"borrower": borrower,
		"loanId":   loanID,
		"amount":   amount,
	}, false)
	if err != nil {
		fmt.Printf("Error repaying loan: %v\n", err)
		return
	}
	var l loanView
	if err := json.Unmarshal(result, &l); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Printf("Loan #%d repaid.\n", l.ID)
}

func checkDefault(loanID uint64) {
	result, err := callRPC("lend_checkDefault", map[string]interface{}{"loanId": loanID}, false)
	if err != nil {
		fmt.Printf("Error checking default: %v\n", err)
		return
	}
	var l loanView
	if err := json.Unmarshal(result, &l); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Printf("Loan #%d marked %s.\n", l.ID, l.Status)
}

func getLoan(loanID uint64) {
	result, err := callRPC("lend_getLoan", map[string]interface{}{"loanId": loanID}, false)
	if err != nil {
		fmt.Printf("Error fetching loan: %v\n", err)
		return
	}
	var l loanView
	if err := json.Unmarshal(result, &l); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	printLoan(l)
}

func repaymentAmount(loanID uint64) {
	result, err := callRPC("lend_getRepaymentAmount", map[string]interface{}{"loanId": loanID}, false)
	if err != nil {
		fmt.Printf("Error fetching repayment amount: %v\n", err)
		return
	}
	var out struct {
		LoanID uint64 `json:"loanId"`
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Printf("Repayment due for loan #%d: %s transfer units\n", out.LoanID, out.Amount)
}

func listLoans(method, label string) {
	result, err := callRPC(method, nil, false)
	if err != nil {
		fmt.Printf("Error listing loans: %v\n", err)
		return
	}
	var ids []uint64
	if err := json.Unmarshal(result, &ids); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	if len(ids) == 0 {
		fmt.Printf("%s loans: none\n", label)
		return
	}
	fmt.Printf("%s loans:\n", label)
	for _, id := range ids {
		fmt.Printf("  - #%d\n", id)
	}
}

func vouchesForLoan(loanID uint64) {
	result, err := callRPC("lend_getVouches", map[string]interface{}{"loanId": loanID}, false)
	if err != nil {
		fmt.Printf("Error fetching vouches: %v\n", err)
		return
	}
	var vouches []struct {
		LoanID         uint64 `json:"loanId"`
		Borrower       string `json:"borrower"`
		Voucher        string `json:"voucher"`
		StarsStaked    uint64 `json:"starsStaked"`
		CapitalPercent uint64 `json:"capitalPercent"`
		CapitalStaked  string `json:"capitalStaked"`
		Status         string `json:"status"`
	}
	if err := json.Unmarshal(result, &vouches); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	if len(vouches) == 0 {
		fmt.Printf("No vouches for loan #%d.\n", loanID)
		return
	}
	fmt.Printf("Vouches for loan #%d:\n", loanID)
	for _, v := range vouches {
		fmt.Printf("  - %s: %d stars, %d%% capital (%s staked), %s\n",
			v.Voucher, v.StarsStaked, v.CapitalPercent, v.CapitalStaked, v.Status)
	}
}

func getExposure(addr string) {
	result, err := callRPC("lend_getExposure", map[string]interface{}{"voucher": addr}, false)
	if err != nil {
		fmt.Printf("Error fetching exposure: %v\n", err)
		return
	}
	var out struct {
		Voucher  string `json:"voucher"`
		Exposure string `json:"exposure"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Printf("Capital exposure for %s: %s\n", out.Voucher, out.Exposure)
}

// --- RPC HELPER FUNCTIONS ---

func callRPC(method string, param interface{}, requireAuth bool) (json.RawMessage, error) {
	payload := map[string]interface{}{"id": 1, "method": method}
	if param != nil {
		payload["params"] = []interface{}{param}
	} else {
		payload["params"] = []interface{}{}
	}
	body, _ := json.Marshal(payload)
	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response from node")
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("error from node: %s", rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if requireAuth {
		if rpcAuthToken == "" {
			return nil, fmt.Errorf("privileged RPC call requires KLEOLEND_RPC_TOKEN to be set")
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

func printUsage() {
	fmt.Println("Usage: ./kleolend-cli [--rpc <url>] <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  generate-key                                   - Generate a new key pair and save it to wallet.key")
	fmt.Println("  stars <address>                                - Show an account's star balance")
	fmt.Println("  record <address>                               - Show an account's full reputation record")
	fmt.Println("  can-vouch <address>                            - Check whether an account may vouch")
	fmt.Println("  deposit <address> <amount>                     - Deposit into the liquidity pool")
	fmt.Println("  withdraw <address> <amount>                    - Withdraw from the liquidity pool")
	fmt.Println("  position <address>                             - Show a depositor's principal, yield and balance")
	fmt.Println("  pool-state                                     - Show aggregate pool totals")
	fmt.Println("  rate                                           - Show the current borrow rate")
	fmt.Println("  request-loan <borrower> <amount> [termSeconds] - Open a pending loan request")
	fmt.Println("  vouch <voucher> <loanId> <stars> <capitalPct>  - Vouch for a pending loan")
	fmt.Println("  repay <borrower> <loanId> <amount>             - Repay an active loan in full")
	fmt.Println("  check-default <loanId>                         - Settle an overdue loan as defaulted")
	fmt.Println("  loan <loanId>                                  - Show a loan record")
	fmt.Println("  repayment-amount <loanId>                      - Show the amount due to repay a loan")
	fmt.Println("  pending                                        - List pending loan ids")
	fmt.Println("  active                                         - List active loan ids")
	fmt.Println("  vouches <loanId>                               - List vouches recorded for a loan")
	fmt.Println("  exposure <voucher>                             - Show a voucher's earmarked capital")
	fmt.Println("  set-stars <address> <stars>                    - Admin: force-set an account's stars")
	fmt.Println("  unban <address>                                - Admin: lift a default ban")
	fmt.Println("  pause <module> / resume <module>               - Admin: toggle a module pause switch")
	fmt.Println("Environment: RPC_URL overrides the endpoint, KLEOLEND_RPC_TOKEN authorizes admin commands.")
}
