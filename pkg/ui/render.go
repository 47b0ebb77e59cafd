package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chaichat/pkg/payment"
	"github.com/go-go-golems/chaichat/pkg/pushchannel"
	"github.com/go-go-golems/chaichat/pkg/transcript"
)

// markdown renders agent text. A nil renderer means plain text.
type markdown struct {
	r     *glamour.TermRenderer
	width int
}

func newMarkdown(width int, style string) *markdown {
	if width <= 0 || style == "" {
		return &markdown{}
	}
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(style), glamour.WithWordWrap(width))
	if err != nil {
		log.Warn().Err(err).Str("component", "ui").Msg("markdown renderer unavailable, using plain text")
		return &markdown{width: width}
	}
	return &markdown{r: r, width: width}
}

func (m *markdown) render(text string) string {
	if m == nil || m.r == nil {
		return text
	}
	out, err := m.r.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

func originLabel(o transcript.Origin) string {
	switch o {
	case transcript.OriginUserInput:
		return userStyle.Render("You")
	case transcript.OriginAgentSync, transcript.OriginAgentPushed:
		return agentStyle.Render("Agent")
	default:
		return noticeStyle.Render("•")
	}
}

func renderEntry(e transcript.Entry, md *markdown) string {
	switch e.Origin {
	case transcript.OriginSystemNotice:
		return originLabel(e.Origin) + " " + noticeStyle.Render(e.Text)
	case transcript.OriginUserInput:
		return originLabel(e.Origin) + ": " + e.Text
	default:
		body := md.render(e.Text)
		if strings.Contains(body, "\n") {
			return originLabel(e.Origin) + ":\n" + body
		}
		return originLabel(e.Origin) + ": " + strings.TrimSpace(body)
	}
}

func renderConnection(st pushchannel.State) string {
	switch st.Phase {
	case pushchannel.PhaseOpen:
		return okStyle.Render("● live")
	case pushchannel.PhaseConnecting, pushchannel.PhaseIdle:
		return warnStyle.Render("○ connecting")
	case pushchannel.PhaseClosed:
		return dimStyle.Render("○ offline")
	default:
		return errorStyle.Render("✕ push unavailable")
	}
}

func renderPanel(st payment.State) string {
	var b strings.Builder
	b.WriteString(panelTitle.Render("Checkout"))
	b.WriteString("\n")
	switch st.Phase {
	case payment.PhaseCompleted:
		b.WriteString(okStyle.Render("Payment submitted."))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("ctrl+t hide"))
	default:
		b.WriteString("Card payment  ")
		b.WriteString(dimStyle.Render(MaskSecret(st.Intent.ClientSecret)))
		b.WriteString("\n")
		if st.Intent.PayPalOrderID != "" {
			b.WriteString("PayPal order  ")
			b.WriteString(dimStyle.Render(st.Intent.PayPalOrderID))
			b.WriteString("\n")
		}
		b.WriteString(dimStyle.Render("ctrl+o pay · ctrl+t hide"))
	}
	return panelStyle.Render(b.String())
}
