// Package pubmed is the biomedical abstract provider, backed by the NCBI
// E-utilities efetch endpoint.
//
// The E-utilities API documentation is available at:
// https://www.ncbi.nlm.nih.gov/books/NBK25499/
package pubmed

import "encoding/xml"

// articleSet is the efetch response for db=pubmed, retmode=xml.
type articleSet struct {
	XMLName  xml.Name  `xml:"PubmedArticleSet"`
	Articles []article `xml:"PubmedArticle"`
}

type article struct {
	MedlineCitation medlineCitation `xml:"MedlineCitation"`
}

type medlineCitation struct {
	PMID    string          `xml:"PMID"`
	Article articleMetadata `xml:"Article"`
}

type articleMetadata struct {
	ArticleTitle string    `xml:"ArticleTitle"`
	Abstract     *abstract `xml:"Abstract"`
}

// abstract may hold several labeled sections (BACKGROUND, METHODS, ...).
type abstract struct {
	Texts []abstractText `xml:"AbstractText"`
}

// abstractText keeps inner XML because sections carry inline markup
// (<i>, <sup>) whose text must not be lost.
type abstractText struct {
	Label string `xml:"Label,attr"`
	Inner string `xml:",innerxml"`
}
