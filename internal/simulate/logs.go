package simulate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// logSignature is one (predicate, cause) pair. Signatures are evaluated in
// order against each log line; adding a heuristic means appending a pair,
// not growing a branch tree.
type logSignature struct {
	match func(line string) bool
	cause string
}

func contains(sub string) func(string) bool {
	return func(line string) bool { return strings.Contains(line, sub) }
}

func pattern(expr string) func(string) bool {
	re := regexp.MustCompile(expr)
	return re.MatchString
}

// errorSignatures maps known on-chain failure lines to readable causes.
// Order matters: more specific signatures come first.
var errorSignatures = []logSignature{
	{contains("insufficient lamports"), "Insufficient SOL to complete this transaction."},
	{contains("Attempt to debit an account but found no record of a prior credit"), "This wallet has no SOL to pay for the transaction."},
	{contains("custom program error: 0x1"), "Insufficient funds for this transfer."},
	{contains("Error: insufficient funds"), "Insufficient token balance for this transfer."},
	{pattern(`exceeded (CUs|maximum number of instructions)`), "The transaction ran out of compute budget."},
	{contains("Blockhash not found"), "The transaction expired before it could be processed. Try again."},
	{contains("slippage tolerance exceeded"), "The price moved beyond the allowed slippage."},
	{contains("already in use"), "The destination account already exists."},
	{pattern(`Program \w+ failed: invalid account data`), "A referenced account holds unexpected data."},
	{contains("incorrect program id for instruction"), "An instruction referenced the wrong program."},
}

// causeFromLogs scans execution logs most-recent-first against the ordered
// signature list and returns one human-readable cause. Best-effort: with no
// match it falls back to rendering the raw execution error. It never turns
// a failure into a success.
func causeFromLogs(logs []string, execErr interface{}) string {
	for i := len(logs) - 1; i >= 0; i-- {
		for _, sig := range errorSignatures {
			if sig.match(logs[i]) {
				return sig.cause
			}
		}
	}

	if execErr == nil {
		return "Transaction simulation failed."
	}
	if raw, err := json.Marshal(execErr); err == nil {
		return fmt.Sprintf("Transaction simulation failed: %s", raw)
	}
	return fmt.Sprintf("Transaction simulation failed: %v", execErr)
}
