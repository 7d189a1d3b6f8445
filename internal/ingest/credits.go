package ingest

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	hstackCreditExpr = regexp.MustCompile(`hstack.*list-unstyled`)
	creditClassExpr  = regexp.MustCompile(`credit`)
	creditAuthorExpr = regexp.MustCompile(`credit|author`)
	creditSplitExpr  = regexp.MustCompile(`[;,]`)
)

// roleKeywords are used to decide whether a trailing parenthetical in a
// credit line is a role or an organization.
var roleKeywords = []string{"animator", "visualiz", "lead", "director", "producer", "scientist"}

// extractCredits gathers attributions from every place SVS pages put
// them, then deduplicates on (role, name) case-insensitively.
func (p *Parser) extractCredits(doc *goquery.Document) []ParsedCredit {
	var credits []ParsedCredit

	credits = append(credits, p.creditsFromJSONLD(doc)...)
	credits = append(credits, p.creditsFromHeaderLists(doc)...)
	credits = append(credits, p.creditsFromHeaderSpans(doc)...)
	credits = append(credits, p.creditsFromCreditsSection(doc)...)
	credits = append(credits, p.creditsFromDescriptions(doc)...)

	seen := map[[2]string]bool{}
	var unique []ParsedCredit
	for _, c := range credits {
		key := [2]string{
			strings.ToLower(strings.TrimSpace(c.Role)),
			strings.ToLower(strings.TrimSpace(c.Name)),
		}
		if !seen[key] {
			seen[key] = true
			unique = append(unique, c)
		}
	}
	return unique
}

func (p *Parser) creditsFromJSONLD(doc *goquery.Document) []ParsedCredit {
	ld := p.jsonLD(doc)
	if ld == nil {
		return nil
	}

	var credits []ParsedCredit

	for _, entry := range asList(ld["author"]) {
		switch v := entry.(type) {
		case map[string]any:
			name, _ := v["name"].(string)
			if name != "" {
				credits = append(credits, ParsedCredit{
					Role:         "Author",
					Name:         name,
					Organization: affiliationName(v),
				})
			}
		case string:
			credits = append(credits, ParsedCredit{Role: "Author", Name: v})
		}
	}

	for _, entry := range asList(ld["contributor"]) {
		if v, ok := entry.(map[string]any); ok {
			name, _ := v["name"].(string)
			if name == "" {
				continue
			}
			role, _ := v["jobTitle"].(string)
			if role == "" {
				role = "Contributor"
			}
			credits = append(credits, ParsedCredit{
				Role:         role,
				Name:         name,
				Organization: affiliationName(v),
			})
		}
	}
	return credits
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

func affiliationName(entry map[string]any) string {
	if aff, ok := entry["affiliation"].(map[string]any); ok {
		name, _ := aff["name"].(string)
		return name
	}
	return ""
}

// creditsFromHeaderLists handles the header credit lists that link
// people to /search?people=NAME.
func (p *Parser) creditsFromHeaderLists(doc *goquery.Document) []ParsedCredit {
	var credits []ParsedCredit

	doc.Find("ul").Each(func(_ int, list *goquery.Selection) {
		class, _ := list.Attr("class")
		if !hstackCreditExpr.MatchString(class) && !creditClassExpr.MatchString(class) {
			return
		}

		role := ""
		roleElem := list.Find(".fw-bold").First()
		if roleElem.Length() == 0 {
			roleElem = list.Find("strong").First()
		}
		if roleElem.Length() > 0 {
			roleText := strings.TrimSpace(roleElem.Text())
			if strings.HasSuffix(roleText, ":") {
				role = strings.TrimSpace(strings.TrimSuffix(roleText, ":"))
			}
		}
		if role == "" {
			return
		}

		list.Find("a[href*='/search?people=']").Each(func(_ int, link *goquery.Selection) {
			name := strings.TrimSpace(link.Text())
			if name != "" {
				credits = append(credits, ParsedCredit{Role: role, Name: name})
			}
		})
	})
	return credits
}

// creditsFromHeaderSpans handles "Role: Name (Org)" strings in the
// page header.
func (p *Parser) creditsFromHeaderSpans(doc *goquery.Document) []ParsedCredit {
	header := doc.Find("header").First()
	if header.Length() == 0 {
		header = doc.Find("div.header").First()
	}
	if header.Length() == 0 {
		return nil
	}

	var credits []ParsedCredit
	header.Find("span, div").Each(func(_ int, elem *goquery.Selection) {
		class, _ := elem.Attr("class")
		if !creditAuthorExpr.MatchString(class) {
			return
		}
		text := strings.TrimSpace(elem.Text())
		m := roleNameExpr.FindStringSubmatch(text)
		if m == nil {
			return
		}
		role, name := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		name, org := splitTrailingOrg(name)
		credits = append(credits, ParsedCredit{Role: role, Name: name, Organization: org})
	})
	return credits
}

// creditsFromCreditsSection walks the dedicated credits section, where
// role headings precede lists of names.
func (p *Parser) creditsFromCreditsSection(doc *goquery.Document) []ParsedCredit {
	section := doc.Find("section#section_credits").First()
	if section.Length() == 0 {
		return nil
	}

	var credits []ParsedCredit
	currentRole := ""
	section.Find("dt, dd, h4, h5, li, p").Each(func(_ int, elem *goquery.Selection) {
		switch goquery.NodeName(elem) {
		case "dt", "h4", "h5":
			currentRole = strings.TrimSuffix(strings.TrimSpace(elem.Text()), ":")
		case "dd", "li", "p":
			if currentRole == "" {
				return
			}
			name := ""
			if link := elem.Find("a").First(); link.Length() > 0 {
				name = strings.TrimSpace(link.Text())
			} else {
				name = strings.TrimSpace(elem.Text())
			}
			if len(name) <= 1 {
				return
			}
			name, org := splitTrailingOrg(name)
			credits = append(credits, ParsedCredit{Role: currentRole, Name: name, Organization: org})
		}
	})
	return credits
}

// creditsFromDescriptions picks up "Credit: ..." lines embedded in the
// story text.
func (p *Parser) creditsFromDescriptions(doc *goquery.Document) []ParsedCredit {
	var credits []ParsedCredit

	p.mediaGroups(doc).Each(func(_ int, group *goquery.Selection) {
		group.Find("div.card-body").First().Find("p").Each(func(_ int, para *goquery.Selection) {
			text := strings.TrimSpace(para.Text())
			m := creditLineExpr.FindStringSubmatch(text)
			if m == nil {
				return
			}
			for _, part := range creditSplitExpr.Split(m[1], -1) {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				if orgMatch := trailingOrgExpr.FindStringSubmatchIndex(part); orgMatch != nil {
					parenthetical := part[orgMatch[2]:orgMatch[3]]
					name := strings.TrimSpace(part[:orgMatch[0]])
					if isRoleKeyword(parenthetical) {
						credits = append(credits, ParsedCredit{Role: parenthetical, Name: name})
					} else {
						credits = append(credits, ParsedCredit{Role: "Credit", Name: name, Organization: parenthetical})
					}
				} else {
					credits = append(credits, ParsedCredit{Role: "Credit", Name: part})
				}
			}
		})
	})
	return credits
}

func isRoleKeyword(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range roleKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// splitTrailingOrg splits "Name (Organization)" into its parts.
func splitTrailingOrg(name string) (string, string) {
	if m := trailingOrgExpr.FindStringSubmatchIndex(name); m != nil {
		return strings.TrimSpace(name[:m[0]]), name[m[2]:m[3]]
	}
	return name, ""
}
