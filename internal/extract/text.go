package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"candidate-harvester/internal/models"
)

// Keywords are the word lists used to tell free text blocks apart. Entries are lowercase.
type Keywords struct {
	Roles     []string
	Locations []string
	Degrees   []string
	Actions   []string
	// Current prefixes introduce a "Role at Company" summary line.
	Current []string
}

// DefaultKeywords returns English, Spanish and Portuguese lists.
func DefaultKeywords() Keywords {
	return Keywords{
		Roles: []string{
			"manager", "director", "engineer", "developer", "analyst", "specialist", "consultant",
			"lead", "head", "officer", "president", "vp", "founder", "owner", "partner", "recruiter",
			"designer", "architect", "coordinator", "associate", "executive", "administrator",
			"intern", "scientist", "assistant", "supervisor", "ceo", "cto", "cfo", "coo", "cmo",
			"gerente", "directora", "ingeniero", "ingeniera", "desarrollador",
			"desarrolladora", "analista", "especialista", "consultor", "consultora", "jefe", "jefa",
			"coordinador", "coordinadora", "fundador", "fundadora", "socio", "socia", "reclutador",
			"diseñador", "diseñadora", "arquitecto", "becario", "practicante", "asistente", "líder",
			"engenheiro", "engenheira", "desenvolvedor", "desenvolvedora", "diretor", "diretora",
			"coordenador", "coordenadora", "sócio", "estagiário",
			"estagiária", "assistente", "supervisora",
		},
		Locations: []string{
			"area", "metropolitan", "greater", "region", "united states", "united kingdom", "canada",
			"remote", "city", "county", "state",
			"área", "metropolitana", "ciudad", "méxico", "mexico", "españa", "spain", "colombia",
			"argentina", "chile", "perú", "peru", "madrid", "barcelona", "bogotá", "buenos aires",
			"santiago", "lima", "monterrey", "guadalajara", "cdmx", "remoto",
			"brasil", "brazil", "são paulo", "sao paulo", "rio de janeiro", "portugal", "lisboa",
			"porto", "belo horizonte", "curitiba", "região", "grande",
		},
		Degrees: []string{
			"1st", "2nd", "3rd", "3rd+", "1º", "2º", "3º", "3º+", "1er", "2do", "3er", "3er+",
			"1°", "2°", "3°", "3°+", "out of network", "fuera de la red", "fora da rede",
		},
		Actions: []string{
			"connect", "message", "follow", "pending", "view profile", "send inmail",
			"conectar", "mensaje", "enviar mensaje", "seguir", "pendiente", "ver perfil",
			"enviar mensagem", "mensagem", "pendente", "visualizar perfil",
		},
		Current: []string{
			"current:", "actual:", "cargo actual:", "atual:", "cargo atual:",
		},
	}
}

var (
	spaceRe  = regexp.MustCompile(`\s+`)
	bulletRe = regexp.MustCompile(`\s*[•·]\s*`)
	// atRe splits "Role at Company" in the supported languages.
	atRe = regexp.MustCompile(`(?i)^(.+?)\s+(?:at|@|en|em|na|no|chez)\s+(\S.*)$`)
	// viewProfileRe matches the accessible label on profile links.
	viewProfileRe = regexp.MustCompile(`(?i)^(?:view\s+(.+?)[’']s\s+profile|ver (?:el )?perfil de\s+(.+)|visualizar perfil de\s+(.+))$`)
)

func cleanText(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// leafTexts returns the trimmed text of every element in sel that has no element children,
// skipping screen-reader-only copies.
func leafTexts(sel *goquery.Selection) []string {
	var out []string
	sel.Find("*").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() > 0 || goquery.NodeName(s) == "script" || goquery.NodeName(s) == "style" {
			return
		}
		if s.HasClass("visually-hidden") || s.Closest(".visually-hidden").Length() > 0 {
			return
		}
		if t := cleanText(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// cleanName strips degree markers and accessible labels from a link's text.
func cleanName(raw string, kw Keywords) string {
	name := cleanText(raw)
	if m := viewProfileRe.FindStringSubmatch(name); m != nil {
		for _, g := range m[1:] {
			if g != "" {
				name = g
				break
			}
		}
	}
	if parts := bulletRe.Split(name, -1); len(parts) > 0 {
		name = parts[0]
	}
	fields := strings.Fields(name)
	for len(fields) > 0 && kw.isDegree(fields[len(fields)-1]) {
		fields = fields[:len(fields)-1]
	}
	name = strings.Join(fields, " ")
	if strings.EqualFold(name, models.RedactedName) {
		return models.RedactedName
	}
	return name
}

func (kw Keywords) isDegree(s string) bool {
	s = strings.ToLower(strings.Trim(cleanText(bulletRe.ReplaceAllString(s, " ")), " ·•,"))
	if s == "" {
		return false
	}
	s = strings.TrimPrefix(s, "degree connection ")
	for _, d := range kw.Degrees {
		if s == d || strings.HasSuffix(s, " "+d) || strings.HasPrefix(s, d+" degree") {
			return true
		}
	}
	return false
}

func (kw Keywords) isAction(s string) bool {
	s = strings.ToLower(s)
	for _, a := range kw.Actions {
		if s == a {
			return true
		}
	}
	return false
}

// currentSummary returns the remainder of s when it starts with a "Current:" style prefix.
func (kw Keywords) currentSummary(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, prefix := range kw.Current {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(s[len(prefix):]), true
		}
	}
	return "", false
}

func (kw Keywords) isLocation(s string) bool {
	return containsWord(strings.ToLower(s), kw.Locations)
}

func (kw Keywords) isRole(s string) bool {
	return containsWord(strings.ToLower(s), kw.Roles)
}

// splitRoleCompany splits a "Role at Company" headline. The Spanish and Portuguese prepositions
// only split when the head reads like a role and the tail like a proper name.
func (kw Keywords) splitRoleCompany(s string) (role, company string, ok bool) {
	m := atRe.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	role, company = strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	sep := strings.ToLower(strings.TrimSpace(s[len(m[1]) : len(s)-len(m[2])]))
	if sep != "at" && sep != "@" {
		if !kw.isRole(role) || kw.isRole(company) || !startsUpper(company) {
			return "", "", false
		}
	}
	company = strings.TrimRight(company, " .,;|")
	if i := strings.Index(company, " | "); i > 0 {
		company = company[:i]
	}
	return role, company, role != "" && company != ""
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

// containsWord reports whether any keyword appears in text on word boundaries.
func containsWord(text string, keywords []string) bool {
	padded := " " + strings.Map(func(r rune) rune {
		switch r {
		case ',', '.', '(', ')', '|', '/', '-', ':', ';':
			return ' '
		}
		return r
	}, text) + " "
	for _, k := range keywords {
		if strings.Contains(padded, " "+k+" ") {
			return true
		}
	}
	return false
}
