package notify

import (
	"fmt"
	"time"
)

const welcomeSubject = "Welcome to Company – Your Account Details"

// WelcomeMessage carries the initial credentials to a new hire.
func WelcomeMessage(to, name, username, tempPassword, department, role string) Message {
	body := fmt.Sprintf(
		"Hello %s,\n\n"+
			"Your company account has been created.\n"+
			"Username: %s\n"+
			"Temporary Password: %s\n"+
			"Department: %s\n"+
			"Role: %s\n\n"+
			"Please change your password on first login.\n\n"+
			"— IT Automation\n",
		name, username, tempPassword, department, role,
	)
	return Message{To: to, Subject: welcomeSubject, Body: body}
}

// AccessUpdateMessage informs an existing employee that their access
// changed after a re-run of the hire file.
func AccessUpdateMessage(to, name, username, department, role string) Message {
	body := fmt.Sprintf(
		"Hello %s,\n\n"+
			"Your company account has been updated.\n"+
			"Username: %s\n"+
			"Department: %s\n"+
			"Role: %s\n\n"+
			"Your group memberships and permissions now match your current role.\n\n"+
			"— IT Automation\n",
		name, username, department, role,
	)
	return Message{To: to, Subject: "Your Account Access Was Updated", Body: body}
}

// OTPMessage carries a one-time login code.
func OTPMessage(to, code string, ttl time.Duration) Message {
	body := fmt.Sprintf(
		"Your one-time code is: %s\nThis code expires in %s or when your session ends.\n",
		code, ttl,
	)
	return Message{To: to, Subject: "Your AutoAccess Login Code", Body: body}
}

// SummaryCounts holds the per-batch totals reported to HR and IT.
type SummaryCounts struct {
	Created     int
	Updated     int
	Deactivated int
	Skipped     int
	Errors      int
}

// SummaryMessage is the once-per-batch report. It is sent even for
// all-rejected batches so operators see zero counts rather than silence.
func SummaryMessage(to string, counts SummaryCounts, processedAt time.Time) Message {
	subject := fmt.Sprintf(
		"AutoAccess Run Summary — %d created, %d deactivated, %d errors",
		counts.Created, counts.Deactivated, counts.Errors,
	)
	body := fmt.Sprintf(
		"AutoAccess Summary\n\n"+
			"Created: %d\n"+
			"Updated: %d\n"+
			"Deactivated: %d\n"+
			"Skipped: %d\n"+
			"Errors: %d\n"+
			"Processed at: %s\n",
		counts.Created, counts.Updated, counts.Deactivated, counts.Skipped, counts.Errors,
		processedAt.UTC().Format(time.RFC3339),
	)
	return Message{To: to, Subject: subject, Body: body}
}

// ValidationReportMessage alerts the admin that a batch carried invalid rows.
func ValidationReportMessage(to string, valid, invalid int, processedAt time.Time) Message {
	subject := fmt.Sprintf("AutoAccess Validation Errors — %d issues found", invalid)
	body := fmt.Sprintf(
		"AutoAccess Validation Report\n\n"+
			"Processed at: %s\n\n"+
			"Validation Summary:\n"+
			"- Valid records: %d\n"+
			"- Records with errors: %d\n\n"+
			"Please review the errors and correct the data before re-uploading.\n\n"+
			"— AutoAccess System\n",
		processedAt.UTC().Format(time.RFC3339), valid, invalid,
	)
	return Message{To: to, Subject: subject, Body: body}
}
