package preflight

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/register"
	"archivist/internal/runlock"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckDirectoryReadable verifies that the directory exists and can be listed.
func CheckDirectoryReadable(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.X_OK, "read ok")
}

func checkDirectory(name, path string, mode uint32, okDetail string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, okDetail)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// minGiB gibibytes available. A zero minimum only reports the free space.
func CheckFreeSpace(name, path string, minGiB int) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := st.Bavail * uint64(st.Bsize)
	detail := fmt.Sprintf("%s free on %s", humanize.IBytes(free), path)
	required := uint64(minGiB) << 30
	if minGiB > 0 && free < required {
		return Result{Name: name, Detail: fmt.Sprintf("%s (need %s)", detail, humanize.IBytes(required))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckRegister opens the archive register and runs its health check.
func CheckRegister(ctx context.Context, path string) Result {
	const name = "Archive register"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (not created yet)", path)}
	}
	reg, err := register.Open(ctx, path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer reg.Close()

	health, err := reg.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if !health.OK() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (integrity %s, %d paths both pending and archived)", path, health.Integrity, health.Overlap)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d pending, %d archived)", path, health.Stats.Pending, health.Stats.Archived)}
}

// CheckCatalog opens the catalog mirror and counts the items it can see.
func CheckCatalog(ctx context.Context, path string) Result {
	const name = "Catalog"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Result{Name: name, Detail: fmt.Sprintf("%s (missing: run \"archivist catalog import\")", path)}
	}
	store, err := catalog.Open(ctx, path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer store.Close()

	snap, err := store.Snapshot(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d items, %d requested)", path, len(snap.Items), len(snap.Tagged(catalog.TagToArchive)))}
}

// CheckArkivum verifies that the appliance REST API answers.
func CheckArkivum(ctx context.Context, cfg config.Arkivum) Result {
	const name = "Arkivum"

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	client := &http.Client{Timeout: 5 * time.Second, Transport: transport}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/api/2/files/fileInfo/", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("request failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%v)", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("Reachable (%d)", resp.StatusCode)}
}

// CheckRunLock reports whether a run currently holds the lock.
func CheckRunLock(jobRoot string) Result {
	const name = "Run lock"
	pid := runlock.Holder(jobRoot)
	switch {
	case pid == 0:
		return Result{Name: name, Passed: true, Detail: "free"}
	case runlock.Alive(pid):
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("held by running pid %d", pid)}
	default:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("stale pid %d recorded (reclaimed on next run)", pid)}
	}
}
