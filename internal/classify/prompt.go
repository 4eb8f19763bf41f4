package classify

import "fmt"

// maxStacktraceChars bounds the failure detail sent to the service.
const maxStacktraceChars = 1000

const promptTemplate = `Analyze the following failed test and classify its failure.
<rules>
Follow these rules in order. The first rule that matches determines the outcome.

1. **RETRYABLE: Transient Server/Network Errors (Highest Priority)**
A test is ALWAYS retryable if the failure indicates a transient issue, EVEN IF it is part of an assertion error.
- Signals: any 5xx HTTP status code (500, 502, 503, 504), TimeoutException, ConnectException, SocketException, deadlock, Service Unavailable.
- Example: an exception like "java.lang.AssertionError: expected [200] but found [503]" IS RETRYABLE because the root cause is the 503 server error.

2. **NOT RETRYABLE: Deterministic Failures**
If no transient error signals from rule 1 are present, the test is NOT retryable.
- Signals: any 4xx HTTP status code (400, 401, 404), NullPointerException, IllegalArgumentException, AssertionError comparing data (e.g. "expected [true] but found [false]").
</rules>

Test Details:
- Description: %q
- File: %q
- Failure Detail:
---
%s
---
Now call the 'return_failure_assessment' function. The arguments must be a perfectly formed, minified JSON object with no extra text or commentary.`

// buildPrompt renders the classification prompt for one failed attempt.
func buildPrompt(req Request) string {
	detail := req.FailureDetail
	if detail == "" {
		detail = "No failure detail provided."
	}
	if len(detail) > maxStacktraceChars {
		detail = detail[:maxStacktraceChars]
	}

	desc := req.Desc
	if desc == "" {
		desc = "No description."
	}
	filePath := req.FilePath
	if filePath == "" {
		filePath = "No file path."
	}

	return fmt.Sprintf(promptTemplate, desc, filePath, detail)
}
