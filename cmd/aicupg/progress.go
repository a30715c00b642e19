package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/moffa90/go-aicupg/host"
	"github.com/moffa90/go-aicupg/upgrade"
)

// upgradeBar renders upgrade.Progress events. A nil *upgradeBar is a
// no-op.
type upgradeBar struct {
	bar       *progressbar.ProgressBar
	component string
}

func newUpgradeBar() *upgradeBar {
	return &upgradeBar{
		bar: progressbar.NewOptions(100,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(upgrade.PhaseStarting),
			progressbar.OptionSetPredictTime(true),
		),
	}
}

func (b *upgradeBar) update(p upgrade.Progress) {
	if p.Component != "" {
		b.component = p.Component
	}
	desc := p.Phase
	if b.component != "" && p.Phase != upgrade.PhaseComplete {
		desc = fmt.Sprintf("%-11s %s", p.Phase, b.component)
	}
	b.bar.Describe(desc)
	_ = b.bar.Set(p.Percentage)
}

func (b *upgradeBar) close() {
	if b == nil {
		return
	}
	_ = b.bar.Close()
	fmt.Fprintln(os.Stderr)
}

// transferBar renders host.Progress events in bytes.
type transferBar struct {
	bar *progressbar.ProgressBar
}

func newTransferBar(total int64, desc string) *transferBar {
	return &transferBar{
		bar: progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(desc),
			progressbar.OptionShowBytes(true),
		),
	}
}

func (b *transferBar) update(p host.Progress) {
	if p.Retries > 0 {
		b.bar.Describe(fmt.Sprintf("%s (%d retries)", p.Phase, p.Retries))
	} else {
		b.bar.Describe(p.Phase)
	}
	_ = b.bar.Set64(p.BytesDone)
}

func (b *transferBar) close() {
	if b == nil {
		return
	}
	_ = b.bar.Close()
	fmt.Fprintln(os.Stderr)
}
