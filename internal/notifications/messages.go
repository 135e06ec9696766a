package notifications

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"archivist/internal/config"
	"archivist/internal/jobs"
)

// SubjectPrefix starts every subject line.
const SubjectPrefix = "[Archive Job]"

// Recipients returns the administrator addresses plus user when it is a
// valid address. Duplicates are removed and order is preserved.
func Recipients(admins []string, user string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(addr string) {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return
		}
		key := strings.ToLower(addr)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	for _, addr := range admins {
		add(addr)
	}
	if config.ValidAddress(user) {
		add(user)
	}
	return out
}

// JobResult tells a job's requester how it ended. record is the job file,
// attached verbatim.
func JobResult(job *jobs.Job, result string, record []byte, admins []string) Message {
	msg := Message{
		To:      Recipients(admins, job.Info.Email),
		Subject: fmt.Sprintf("%s Archive Job : %s", SubjectPrefix, result),
		Body: fmt.Sprintf("Archive Job : %s\nResult : %s\n\nYour archive job file is attached.\n\n---\n%s",
			job.ID, result, signature()),
		Tags: []string{"archive", strings.ToLower(result)},
	}
	if len(record) > 0 {
		msg.Attachment = &Attachment{Name: job.ID + ".txt", Data: record}
	}
	if result == string(jobs.StateError) {
		msg.Priority = "high"
	}
	return msg
}

// ReviewEntry summarizes one job awaiting a decision.
type ReviewEntry struct {
	ID      string
	User    string
	Owner   string
	Size    string
	Files   int
	Created time.Time
	Overdue bool
}

// AwaitingReview reminds administrators about New jobs. It returns false
// when there is nothing to report.
func AwaitingReview(entries []ReviewEntry, admins []string) (Message, bool) {
	if len(entries) == 0 {
		return Message{}, false
	}
	sorted := append([]ReviewEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	overdue := 0
	var b strings.Builder
	b.WriteString("Archive jobs awaiting review:\n\n")
	for _, e := range sorted {
		marker := ""
		if e.Overdue {
			marker = " [OVERDUE]"
			overdue++
		}
		fmt.Fprintf(&b, "%s  user=%s owner=%s files=%d size=%s created=%s%s\n",
			e.ID, e.User, e.Owner, e.Files, e.Size, e.Created.Format("2006-01-02"), marker)
	}
	b.WriteString("\nApprove with: archivist approve <job>\nDecline with: archivist decline <job>\n\n---\n")
	b.WriteString(signature())

	subject := fmt.Sprintf("%s %d awaiting review", SubjectPrefix, len(sorted))
	if overdue > 0 {
		subject = fmt.Sprintf("%s (%d overdue)", subject, overdue)
	}
	return Message{
		To:      Recipients(admins, ""),
		Subject: subject,
		Body:    b.String(),
		Tags:    []string{"archive", "review"},
	}, true
}

// AdminAlert reports a fault that needs operator attention.
func AdminAlert(title, detail string, admins []string) Message {
	return Message{
		To:       Recipients(admins, ""),
		Subject:  fmt.Sprintf("%s Alert : %s", SubjectPrefix, title),
		Body:     fmt.Sprintf("%s\n\n---\n%s", strings.TrimSpace(detail), signature()),
		Tags:     []string{"archive", "alert"},
		Priority: "high",
	}
}

// Test builds the message sent by the test-notify command.
func Test(admins []string) Message {
	return Message{
		To:       Recipients(admins, ""),
		Subject:  SubjectPrefix + " Test",
		Body:     "Notification system test\n\n---\n" + signature(),
		Tags:     []string{"archive", "test"},
		Priority: "low",
	}
}

func signature() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return "Archivist @ " + host
}
