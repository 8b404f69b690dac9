package narration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestDescribeHTML(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		lang     string
		want     string
	}{
		{"aria label wins", `<button aria-label="Fechar menu" role="button">X</button>`, "pt-BR", "Fechar menu (papel: button)"},
		{"alt before text", `<img alt=" Logo da escola " src="logo.png">`, "pt-BR", "Logo da escola"},
		{"text content", "<a href=\"/perfil\">\n  Meu <b>perfil</b>\n</a>", "pt-BR", "Meu perfil"},
		{"role only", `<div role="navigation"></div>`, "pt-BR", "(papel: navigation)"},
		{"english role label", `<nav role="navigation">Menu</nav>`, "en-US", "Menu (role: navigation)"},
		{"leading text skipped", `   <span>Turma 3A</span>`, "pt-BR", "Turma 3A"},
		{"empty element", `<span>   </span>`, "pt-BR", ""},
		{"inner whitespace kept", "<p>Linha 1\n  Linha 2</p>", "pt-BR", "Linha 1\n  Linha 2"},
		{"adjacent text joined", `<span><b>EREM</b>Recife</span>`, "pt-BR", "EREMRecife"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DescribeHTML(tc.fragment, tc.lang)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := DescribeHTML("just text", "pt-BR")
	assert.ErrorIs(t, err, ErrNoElement)
}

func TestDescribeElement(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<html><body><input aria-label="E-mail" alt="ignored"></body></html>`))
	require.NoError(t, err)
	var input *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "input" {
			input = n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	require.NotNil(t, input)
	assert.Equal(t, "input", input.Data)
	assert.Equal(t, "E-mail", DescribeElement(input))
	assert.Empty(t, DescribeElement(nil))
}

func TestAnnouncement(t *testing.T) {
	assert.Equal(t, "Salvar", Announcement("Salvar", false))
	assert.Equal(t, "Salvar. Ativado.", Announcement("Salvar", true))
	assert.Empty(t, Announcement("", true))
}
